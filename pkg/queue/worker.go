package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/tacedge/tacgate/pkg/audit"
	"github.com/tacedge/tacgate/pkg/metrics"
	"github.com/tacedge/tacgate/pkg/types"
)

// DeliverFunc attempts delivery of one stored entry.
type DeliverFunc func(ctx context.Context, e *Entry) error

// DefaultDrainInterval is how often the worker tries to drain the queue.
const DefaultDrainInterval = 2 * time.Second

// Worker periodically drains the queue in strict precedence order,
// dropping expired entries and redelivering the rest.
type Worker struct {
	manager  *Manager
	deliver  DeliverFunc
	log      *audit.Log
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time

	// OnDelivered fires after a stored entry is delivered.
	OnDelivered func(e *Entry)
	// OnExpired fires after an entry is dropped at TTL expiry.
	OnExpired func(e *Entry)
	// OnCycle fires at the start of each drain cycle, before any
	// dequeue. The send pipeline uses it to retry deferred enqueues.
	OnCycle func(ctx context.Context)
}

// NewWorker builds a drain worker. A zero interval selects the default.
func NewWorker(manager *Manager, deliver DeliverFunc, log *audit.Log, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &Worker{
		manager:  manager,
		deliver:  deliver,
		log:      log,
		logger:   slog.Default().With("component", "drain-worker"),
		interval: interval,
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (w *Worker) SetClock(clock func() time.Time) { w.clock = clock }

// Run drains on a ticker until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("drain worker started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("drain worker stopped")
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce runs a single drain cycle: restore the primary backend if
// possible, then walk classes highest precedence first. A delivery
// failure requeues the entry at the tail of its class with the retry
// count bumped; entries behind it are still attempted this cycle.
func (w *Worker) DrainOnce(ctx context.Context) (delivered, failed int) {
	w.manager.RestorePrimary(ctx)
	if w.OnCycle != nil {
		w.OnCycle(ctx)
	}

	for _, p := range types.PrecedenceOrder {
		depth, err := w.manager.Depth(ctx, p)
		if err != nil {
			w.logger.Error("depth check failed", "precedence", p, "error", err)
			continue
		}
		metrics.QueueDepth.WithLabelValues(string(p)).Set(float64(depth))

		// Bounded by the depth observed at cycle start so requeued
		// failures cannot spin the loop.
		for i := int64(0); i < depth; i++ {
			e, err := w.manager.Dequeue(ctx, p)
			if err != nil {
				w.logger.Error("dequeue failed", "precedence", p, "error", err)
				break
			}
			if e == nil {
				break
			}
			metrics.MessagesDequeued.WithLabelValues(string(p)).Inc()

			if e.Expired(w.clock()) {
				w.expire(ctx, e)
				failed++
				continue
			}

			// One entry's failure never halts the class: the entry goes
			// back to the tail and the rest of the class is attempted.
			if err := w.attempt(ctx, e); err != nil {
				e.RetryCount++
				if rerr := w.manager.Requeue(ctx, e); rerr != nil {
					w.logger.Error("requeue after failed delivery failed",
						"message_id", e.MessageID, "error", rerr)
				}
				failed++
				continue
			}

			_ = w.manager.Release(ctx, e.MessageID)
			if w.OnDelivered != nil {
				w.OnDelivered(e)
			}
			delivered++
		}
	}
	return delivered, failed
}

// Flush drains everything deliverable right now, in strict precedence
// order. Used by the flush endpoint.
func (w *Worker) Flush(ctx context.Context) (flushed, failed int) {
	return w.DrainOnce(ctx)
}

// attempt delivers under the precedence latency budget.
func (w *Worker) attempt(ctx context.Context, e *Entry) error {
	dctx, cancel := context.WithTimeout(ctx, e.Precedence.MaxLatency())
	defer cancel()
	return w.deliver(dctx, e)
}

func (w *Worker) expire(ctx context.Context, e *Entry) {
	metrics.MessagesExpired.WithLabelValues(string(e.Precedence)).Inc()
	w.manager.RecordExpiry()
	_ = w.manager.Release(ctx, e.MessageID)

	if w.log != nil {
		_, _ = w.log.Append("MESSAGE_EXPIRED", audit.FamilyAudit,
			audit.Actor{NodeID: "system", Role: "system"},
			audit.Action{
				Operation: "EXPIRE_MESSAGE",
				Resource:  "message:" + e.MessageID,
				Outcome:   audit.OutcomeFailure,
				Reason:    "ttl elapsed before delivery",
			},
			map[string]any{
				"precedence": string(e.Precedence),
				"recipient":  e.Recipient,
				"expires_at": e.ExpiresAt.UTC().Format(time.RFC3339),
			})
	}

	w.logger.Info("message expired undelivered",
		"message_id", e.MessageID, "precedence", e.Precedence, "recipient", e.Recipient)

	if w.OnExpired != nil {
		w.OnExpired(e)
	}
}
