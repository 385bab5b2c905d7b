// Package server wires the gateway components behind one HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tacedge/tacgate/pkg/api"
	"github.com/tacedge/tacgate/pkg/audit"
	"github.com/tacedge/tacgate/pkg/auth"
	"github.com/tacedge/tacgate/pkg/config"
	"github.com/tacedge/tacgate/pkg/crypto"
	"github.com/tacedge/tacgate/pkg/delivery"
	"github.com/tacedge/tacgate/pkg/gateway"
	"github.com/tacedge/tacgate/pkg/queue"
	"github.com/tacedge/tacgate/pkg/types"
)

// Server owns the wired gateway components and the HTTP surface.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	log      *audit.Log
	sink     *audit.FileSink
	engine   *crypto.Engine
	manager  *queue.Manager
	worker   *queue.Worker
	registry delivery.Registry
	pipeline *gateway.Pipeline
	store    *gateway.StatusStore
	handler  http.Handler
}

// Option overrides a wired component, mainly for tests.
type Option func(*options)

type options struct {
	queueStore queue.Store
	registry   delivery.Registry
	transport  delivery.TransportFunc
	sink       *audit.FileSink
}

// WithQueueStore injects a primary queue backend.
func WithQueueStore(s queue.Store) Option { return func(o *options) { o.queueStore = s } }

// WithRegistry injects a node registry.
func WithRegistry(r delivery.Registry) Option { return func(o *options) { o.registry = r } }

// WithTransport injects a delivery transport.
func WithTransport(t delivery.TransportFunc) Option { return func(o *options) { o.transport = t } }

// WithAuditSink injects a file sink (nil disables persistence).
func WithAuditSink(s *audit.FileSink) Option { return func(o *options) { o.sink = s } }

// New wires the full gateway from configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	sink := o.sink
	if sink == nil && cfg.AuditDir != "" {
		sink, err = audit.NewFileSink(cfg.AuditDir)
		if err != nil {
			return nil, err
		}
	}
	log := audit.NewLogWithCapacity(sink, cfg.AuditCapacity)

	var engine *crypto.Engine
	if cfg.MasterKey != "" {
		engine, err = crypto.NewEngine(cfg.MasterKey)
		if err != nil {
			return nil, err
		}
	}

	primary := o.queueStore
	if primary == nil && cfg.RedisURL != "" {
		primary, err = queue.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
	}
	manager := queue.NewManager(ctx, primary)

	registry := o.registry
	if registry == nil {
		registry = buildRegistry(policy, cfg.ConnectedNodes)
	}
	tx := delivery.NewTransmitter(registry, o.transport)

	store := gateway.NewStatusStore()
	pipeline := gateway.NewPipeline(store, engine, log, manager, registry, tx, policy, cfg.AllowPlaintextFallback)

	worker := queue.NewWorker(manager, pipeline.DeliverEntry, log, cfg.DrainInterval)
	worker.OnDelivered = pipeline.HandleDelivered
	worker.OnExpired = pipeline.HandleExpired
	worker.OnCycle = pipeline.RetryDeferred

	s := &Server{
		cfg:      cfg,
		logger:   slog.Default().With("component", "server"),
		log:      log,
		sink:     sink,
		engine:   engine,
		manager:  manager,
		worker:   worker,
		registry: registry,
		pipeline: pipeline,
		store:    store,
	}

	validator := auth.NewValidator(cfg.JWTSecret)
	mux := s.routes()

	chain := auth.NewMiddleware(validator, log)(mux)
	chain = api.NewRateLimiter(100, 200).Middleware(chain)
	chain = api.RequestIDMiddleware(chain)
	s.handler = chain
	return s, nil
}

// buildRegistry seeds the node roster from the delivery policy, then
// applies the CONNECTED_NODES override.
func buildRegistry(policy *config.DeliveryPolicy, connected []string) delivery.Registry {
	nodes := make([]delivery.Node, 0, len(policy.Nodes))
	for _, n := range policy.Nodes {
		status := delivery.NodeDisconnected
		if n.Connected {
			status = delivery.NodeConnected
		}
		nodes = append(nodes, delivery.Node{
			NodeID:            n.NodeID,
			Status:            status,
			IPAddress:         n.IPAddress,
			Capabilities:      n.Capabilities,
			MaxClassification: types.Classification(n.MaxClassification),
		})
	}
	registry := delivery.NewStaticRegistry(nodes)
	for _, id := range connected {
		if err := registry.SetConnected(id, true); err != nil {
			slog.Warn("CONNECTED_NODES names unknown node", "node_id", id)
		}
	}
	return registry
}

// Handler exposes the full middleware chain. Used by tests and Run.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until the context is cancelled, then shuts down cleanly:
// stop accepting, stop the drain worker, close the queue backends and
// flush the audit file handle.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go s.worker.Run(workerCtx)
	go s.sweepLoop(workerCtx)

	httpServer := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "port", s.cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("http shutdown", "error", err)
	}

	stopWorker()
	if err := s.manager.Close(); err != nil {
		s.logger.Error("queue close", "error", err)
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Error("audit sink close", "error", err)
		}
	}
	return nil
}

// sweepLoop evicts old terminal message records hourly.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			evicted := s.store.Sweep(now, now.Add(-48*time.Hour))
			if evicted > 0 {
				s.logger.Info("status store swept", "evicted", evicted)
			}
		}
	}
}
