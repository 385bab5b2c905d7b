package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tacedge/tacgate/pkg/metrics"
	"github.com/tacedge/tacgate/pkg/types"
)

// Manager fronts a primary store with an in-memory fallback. When the
// primary errors, operations degrade to the fallback so messages are
// never refused; the drain worker probes the primary each cycle and
// moves fallback entries back once it recovers.
//
// Duplicate guards do not survive a fail-over; enqueue-once is enforced
// per backend.
type Manager struct {
	primary  Store
	fallback Store
	logger   *slog.Logger

	mu       sync.Mutex
	degraded bool
	expired  []time.Time // expiry timestamps, pruned to a 24h window

	clock func() time.Time
}

// NewManager wires a primary store (may be nil) and probes it once.
func NewManager(ctx context.Context, primary Store) *Manager {
	m := &Manager{
		primary:  primary,
		fallback: NewMemoryStore(),
		logger:   slog.Default().With("component", "queue"),
		clock:    time.Now,
	}
	if primary == nil {
		m.degraded = true
		m.logger.Warn("no primary queue backend configured, using in-memory fallback")
		return m
	}
	if err := primary.Ping(ctx); err != nil {
		m.degraded = true
		m.logger.Warn("primary queue backend unreachable, using in-memory fallback", "error", err)
	}
	return m
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// Degraded reports whether operations are running on the fallback.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Manager) active() Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded || m.primary == nil {
		return m.fallback
	}
	return m.primary
}

func (m *Manager) degrade(err error) {
	m.mu.Lock()
	already := m.degraded
	m.degraded = true
	m.mu.Unlock()
	if !already {
		m.logger.Warn("queue backend failed, degrading to in-memory fallback", "error", err)
	}
}

// RestorePrimary probes the primary and, on success, moves fallback
// entries back onto it. Returns true when the primary is serving.
func (m *Manager) RestorePrimary(ctx context.Context) bool {
	if m.primary == nil {
		return false
	}
	if !m.Degraded() {
		return true
	}
	if err := m.primary.Ping(ctx); err != nil {
		return false
	}

	moved := 0
	for _, p := range types.PrecedenceOrder {
		for {
			e, err := m.fallback.Dequeue(ctx, p)
			if err != nil || e == nil {
				break
			}
			if err := m.primary.Requeue(ctx, e); err != nil {
				// Primary flapped mid-transfer; put the entry back.
				_ = m.fallback.Requeue(ctx, e)
				return false
			}
			_ = m.fallback.Release(ctx, e.MessageID)
			moved++
		}
	}

	m.mu.Lock()
	m.degraded = false
	m.mu.Unlock()
	m.logger.Info("primary queue backend restored", "entries_moved", moved)
	return true
}

// Enqueue stores an entry on the active backend, falling back once on
// a primary failure.
func (m *Manager) Enqueue(ctx context.Context, e *Entry) (int64, error) {
	store := m.active()
	pos, err := store.Enqueue(ctx, e)
	if err != nil && err != ErrAlreadyQueued && store == m.primary {
		m.degrade(err)
		pos, err = m.fallback.Enqueue(ctx, e)
	}
	if err == nil {
		metrics.MessagesEnqueued.WithLabelValues(string(e.Precedence)).Inc()
	}
	return pos, err
}

// Requeue puts a dequeued entry back on the active backend.
func (m *Manager) Requeue(ctx context.Context, e *Entry) error {
	store := m.active()
	err := store.Requeue(ctx, e)
	if err != nil && store == m.primary {
		m.degrade(err)
		err = m.fallback.Requeue(ctx, e)
	}
	return err
}

// Dequeue pops the oldest entry of the class from the active backend.
func (m *Manager) Dequeue(ctx context.Context, p types.Precedence) (*Entry, error) {
	store := m.active()
	e, err := store.Dequeue(ctx, p)
	if err != nil && store == m.primary {
		m.degrade(err)
		return m.fallback.Dequeue(ctx, p)
	}
	return e, err
}

// Release drops the duplicate guard for a delivered or expired message.
func (m *Manager) Release(ctx context.Context, messageID string) error {
	return m.active().Release(ctx, messageID)
}

// Depth returns the stored count for one class.
func (m *Manager) Depth(ctx context.Context, p types.Precedence) (int64, error) {
	return m.active().Depth(ctx, p)
}

// Backend names the backend currently serving operations.
func (m *Manager) Backend() string {
	return m.active().Backend()
}

// RecordExpiry notes a TTL expiry for the 24h counter.
func (m *Manager) RecordExpiry() {
	now := m.clock()
	cutoff := now.Add(-24 * time.Hour)
	m.mu.Lock()
	kept := m.expired[:0]
	for _, t := range m.expired {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.expired = append(kept, now)
	m.mu.Unlock()
}

// ExpiredLast24h counts TTL expiries in the trailing 24 hours.
func (m *Manager) ExpiredLast24h() int {
	cutoff := m.clock().Add(-24 * time.Hour)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.expired {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// ClassStatus is the per-precedence view in the status report.
type ClassStatus struct {
	Depth  int64      `json:"depth"`
	Oldest *time.Time `json:"oldest_message,omitempty"`
}

// Status is the queue status report.
type Status struct {
	Backend        string                           `json:"backend"`
	TotalDepth     int64                            `json:"total_depth"`
	Classes        map[types.Precedence]ClassStatus `json:"queues"`
	ExpiredLast24h int                              `json:"expired_last_24h"`
}

// Status reports depths and oldest entries per class and refreshes the
// depth gauges.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	store := m.active()
	st := &Status{
		Backend:        store.Backend(),
		Classes:        make(map[types.Precedence]ClassStatus, len(types.PrecedenceOrder)),
		ExpiredLast24h: m.ExpiredLast24h(),
	}
	for _, p := range types.PrecedenceOrder {
		depth, err := store.Depth(ctx, p)
		if err != nil {
			return nil, err
		}
		oldest, err := store.OldestCreatedAt(ctx, p)
		if err != nil {
			return nil, err
		}
		st.Classes[p] = ClassStatus{Depth: depth, Oldest: oldest}
		st.TotalDepth += depth
		metrics.QueueDepth.WithLabelValues(string(p)).Set(float64(depth))
	}
	return st, nil
}

// Close closes both backends.
func (m *Manager) Close() error {
	err := m.fallback.Close()
	if m.primary != nil {
		if perr := m.primary.Close(); perr != nil {
			err = perr
		}
	}
	return err
}
