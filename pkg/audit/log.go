package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tacedge/tacgate/pkg/metrics"
)

// DefaultCapacity is the in-memory retention limit. On overflow the
// oldest events are discarded in FIFO order; the on-disk files keep
// the full history.
const DefaultCapacity = 10_000

var (
	// ErrInvalidControlFamily rejects events outside the closed set.
	ErrInvalidControlFamily = errors.New("audit: invalid control family")
	// ErrEmptyEventType rejects events without a type.
	ErrEmptyEventType = errors.New("audit: event_type must not be empty")
)

// Log is the process-wide append-only audit log. Appends take the
// writer lock; queries take a reader lock. Each accepted event is
// immutable and carries its own integrity hash.
type Log struct {
	mu       sync.RWMutex
	events   []*Event
	byFamily map[ControlFamily][]*Event
	byType   map[string][]*Event
	byActor  map[string][]*Event

	capacity int
	total    uint64 // accepted events over process lifetime

	sink   *FileSink // optional; nil disables persistence
	logger *slog.Logger
	clock  func() time.Time
}

// NewLog creates a Log with the given file sink (may be nil) and the
// default in-memory capacity.
func NewLog(sink *FileSink) *Log {
	return NewLogWithCapacity(sink, DefaultCapacity)
}

// NewLogWithCapacity creates a Log retaining at most capacity events
// in memory.
func NewLogWithCapacity(sink *FileSink, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		byFamily: make(map[ControlFamily][]*Event),
		byType:   make(map[string][]*Event),
		byActor:  make(map[string][]*Event),
		capacity: capacity,
		sink:     sink,
		logger:   slog.Default().With("component", "audit"),
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Log) SetClock(clock func() time.Time) { l.clock = clock }

// Append creates, hashes, stores and persists a new event.
// A disk write failure is logged and counted but never surfaced; the
// in-memory accept stands.
func (l *Log) Append(eventType string, family ControlFamily, actor Actor, action Action, context map[string]any) (*Event, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if !family.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidControlFamily, family)
	}
	if context == nil {
		context = map[string]any{}
	}
	if action.Outcome == "" {
		action.Outcome = OutcomeSuccess
	}

	event := &Event{
		EventID:       "evt-" + uuid.New().String(),
		Timestamp:     l.clock().UTC().Format(time.RFC3339Nano),
		EventType:     eventType,
		ControlFamily: family,
		Actor:         actor,
		Action:        action,
		Context:       context,
	}

	hash, err := event.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("audit: compute integrity hash: %w", err)
	}
	event.Hash = hash

	l.mu.Lock()
	l.events = append(l.events, event)
	l.byFamily[event.ControlFamily] = append(l.byFamily[event.ControlFamily], event)
	l.byType[event.EventType] = append(l.byType[event.EventType], event)
	if event.Actor.NodeID != "" {
		l.byActor[event.Actor.NodeID] = append(l.byActor[event.Actor.NodeID], event)
	}
	l.total++
	for len(l.events) > l.capacity {
		l.evictOldestLocked()
	}
	l.mu.Unlock()

	metrics.AuditEvents.WithLabelValues(event.EventType, string(event.ControlFamily)).Inc()

	if l.sink != nil {
		if err := l.sink.Write(event); err != nil {
			metrics.AuditDiskFailures.Inc()
			l.logger.Error("failed to persist audit event",
				"event_id", event.EventID, "error", err)
		}
	}

	return event, nil
}

// evictOldestLocked drops the oldest in-memory event and prunes it from
// every index. Caller holds the writer lock.
func (l *Log) evictOldestLocked() {
	oldest := l.events[0]
	l.events = l.events[1:]
	l.byFamily[oldest.ControlFamily] = dropFirst(l.byFamily[oldest.ControlFamily], oldest)
	l.byType[oldest.EventType] = dropFirst(l.byType[oldest.EventType], oldest)
	if oldest.Actor.NodeID != "" {
		l.byActor[oldest.Actor.NodeID] = dropFirst(l.byActor[oldest.Actor.NodeID], oldest)
	}
}

func dropFirst(events []*Event, target *Event) []*Event {
	for i, e := range events {
		if e == target {
			return append(events[:i:i], events[i+1:]...)
		}
	}
	return events
}

// Query selects events by filter.
type Query struct {
	ControlFamily ControlFamily
	EventType     string
	ActorNode     string
	StartTime     *time.Time
	EndTime       *time.Time
	Limit         int
	Offset        int
}

// Query applies the most selective available index (control family,
// then event type, then actor node) and filters the remainder. When an
// index was used, insertion order within the index is preserved; an
// unindexed query with filters returns most-recent-first. Query{}
// returns events in insertion order.
func (l *Log) Query(q Query) []*Event {
	l.mu.RLock()

	var pool []*Event
	indexUsed := true
	switch {
	case q.ControlFamily != "":
		pool = l.byFamily[q.ControlFamily]
	case q.EventType != "":
		pool = l.byType[q.EventType]
	case q.ActorNode != "":
		pool = l.byActor[q.ActorNode]
	default:
		pool = l.events
		indexUsed = false
	}

	filtered := make([]*Event, 0, len(pool))
	for _, e := range pool {
		if q.matches(e) {
			filtered = append(filtered, e)
		}
	}
	l.mu.RUnlock()

	if !indexUsed && (q.StartTime != nil || q.EndTime != nil) {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Timestamp > filtered[j].Timestamp
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return []*Event{}
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

func (q Query) matches(e *Event) bool {
	if q.ControlFamily != "" && e.ControlFamily != q.ControlFamily {
		return false
	}
	if q.EventType != "" && e.EventType != q.EventType {
		return false
	}
	if q.ActorNode != "" && e.Actor.NodeID != q.ActorNode {
		return false
	}
	if q.StartTime != nil || q.EndTime != nil {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return false
		}
		if q.StartTime != nil && ts.Before(*q.StartTime) {
			return false
		}
		if q.EndTime != nil && ts.After(*q.EndTime) {
			return false
		}
	}
	return true
}

// Export produces a JSON array of all in-memory events in insertion order.
func (l *Log) Export() ([]byte, error) {
	l.mu.RLock()
	events := make([]*Event, len(l.events))
	copy(events, l.events)
	l.mu.RUnlock()
	return json.Marshal(events)
}

// ActorCount pairs a node id with its event count.
type ActorCount struct {
	NodeID string `json:"node_id"`
	Count  int    `json:"count"`
}

// Stats is the aggregate view of the log.
type Stats struct {
	TotalEvents     uint64                `json:"total_events"`
	ByControlFamily map[ControlFamily]int `json:"by_control_family"`
	ByOutcome       map[Outcome]int       `json:"by_outcome"`
	TopActors       []ActorCount          `json:"top_actors"`
}

// Stats aggregates counts over the in-memory log. TotalEvents counts
// every accepted event over the process lifetime, including evicted ones.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		TotalEvents:     l.total,
		ByControlFamily: make(map[ControlFamily]int, len(l.byFamily)),
		ByOutcome:       make(map[Outcome]int),
	}
	for family, events := range l.byFamily {
		s.ByControlFamily[family] = len(events)
	}
	for _, e := range l.events {
		s.ByOutcome[e.Action.Outcome]++
	}

	counts := make([]ActorCount, 0, len(l.byActor))
	for node, events := range l.byActor {
		counts = append(counts, ActorCount{NodeID: node, Count: len(events)})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].NodeID < counts[j].NodeID
	})
	if len(counts) > 10 {
		counts = counts[:10]
	}
	s.TopActors = counts
	return s
}

// Size returns the number of events currently retained in memory.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
