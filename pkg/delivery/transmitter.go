package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tacedge/tacgate/pkg/types"
)

var (
	// ErrNodeUnreachable means the recipient is not in the connected set.
	ErrNodeUnreachable = errors.New("delivery: node unreachable")
	// ErrCircuitOpen means transmission is suspended after repeated failures.
	ErrCircuitOpen = errors.New("delivery: transmit circuit open")
)

// TransportFunc performs the actual transmission of an encrypted
// payload to a node. The default transport is the in-process loopback;
// a radio or IP bearer plugs in here.
type TransportFunc func(ctx context.Context, node Node, messageID, payload string) error

// Transmitter delivers payloads to connected nodes. Repeated transport
// failures open a circuit breaker so a flapping bearer is not hammered.
type Transmitter struct {
	registry  Registry
	transport TransportFunc
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewTransmitter builds a transmitter over the registry. A nil
// transport selects the loopback.
func NewTransmitter(registry Registry, transport TransportFunc) *Transmitter {
	if transport == nil {
		transport = loopbackTransport
	}
	return &Transmitter{
		registry:  registry,
		transport: transport,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "transmit",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: slog.Default().With("component", "transmitter"),
	}
}

// Deliver transmits one payload under the precedence latency budget.
func (t *Transmitter) Deliver(ctx context.Context, messageID, recipient, payload string, p types.Precedence) error {
	node, ok := t.registry.Get(recipient)
	if !ok || node.Status != NodeConnected {
		return fmt.Errorf("%w: %s", ErrNodeUnreachable, recipient)
	}

	dctx, cancel := context.WithTimeout(ctx, p.MaxLatency())
	defer cancel()

	start := time.Now()
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.transport(dctx, node, messageID, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, recipient)
		}
		return fmt.Errorf("delivery: transmit to %s: %w", recipient, err)
	}

	t.logger.Debug("message transmitted",
		"message_id", messageID,
		"recipient", recipient,
		"precedence", p,
		"elapsed", time.Since(start))
	return nil
}

// loopbackTransport accepts everything instantly. It stands in for the
// radio bearer in single-process deployments and tests.
func loopbackTransport(ctx context.Context, _ Node, _, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
