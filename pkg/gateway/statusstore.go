// Package gateway implements the message send pipeline and the status
// store handlers read from.
package gateway

import (
	"sync"
	"time"

	"github.com/tacedge/tacgate/pkg/types"
)

// Record is the gateway's view of one message. Content keeps the
// plaintext as submitted for the content endpoint; OutboundPayload is
// what actually left (or will leave) the gateway.
type Record struct {
	MessageID         string               `json:"message_id"`
	Precedence        types.Precedence     `json:"precedence"`
	Classification    types.Classification `json:"classification"`
	Sender            string               `json:"sender"`
	Recipient         string               `json:"recipient"`
	Content           string               `json:"-"`
	OutboundPayload   string               `json:"-"`
	Encrypted         bool                 `json:"encrypted"`
	Status            types.Status         `json:"status"`
	CreatedAt         time.Time            `json:"created_at"`
	ExpiresAt         time.Time            `json:"expires_at"`
	EstimatedDelivery time.Time            `json:"estimated_delivery"`
	DeliveredAt       *time.Time           `json:"delivered_at,omitempty"`
	Acknowledged      bool                 `json:"acknowledged"`
	AcknowledgedAt    *time.Time           `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string               `json:"acknowledged_by,omitempty"`
}

// StatusStore holds message records in memory. All status writes for
// one message are serialized by the store lock and gated by the status
// state machine, so a record can never move backwards.
type StatusStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStatusStore creates an empty store.
func NewStatusStore() *StatusStore {
	return &StatusStore{records: make(map[string]*Record)}
}

// Put registers a new record.
func (s *StatusStore) Put(r *Record) {
	s.mu.Lock()
	s.records[r.MessageID] = r
	s.mu.Unlock()
}

// Get returns a copy of the record.
func (s *StatusStore) Get(messageID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[messageID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Advance moves a message's status forward. Disallowed transitions are
// ignored and reported false; the stored status never regresses.
func (s *StatusStore) Advance(messageID string, to types.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[messageID]
	if !ok || !r.Status.CanTransition(to) {
		return false
	}
	r.Status = to
	return true
}

// MarkDelivered advances to TRANSMITTED and stamps the delivery time.
func (s *StatusStore) MarkDelivered(messageID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[messageID]
	if !ok || !r.Status.CanTransition(types.StatusTransmitted) {
		return false
	}
	r.Status = types.StatusTransmitted
	at = at.UTC()
	r.DeliveredAt = &at
	return true
}

// Ack marks a message acknowledged, recording when and by whom. The
// first call returns true; later calls are idempotent and return false.
func (s *StatusStore) Ack(messageID string, at time.Time, by string) (Record, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[messageID]
	if !ok {
		return Record{}, false, false
	}
	if r.Acknowledged {
		return *r, true, false
	}
	r.Acknowledged = true
	at = at.UTC()
	r.AcknowledgedAt = &at
	r.AcknowledgedBy = by
	return *r, true, true
}

// Sweep marks overdue non-terminal records EXPIRED, drops their bodies,
// and evicts terminal records created before the cutoff, bounding memory
// on long-running gateways. Returns the eviction count.
func (s *StatusStore) Sweep(now, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, r := range s.records {
		if !r.Status.Terminal() && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt) {
			if r.Status.CanTransition(types.StatusExpired) {
				r.Status = types.StatusExpired
				r.Content = ""
				r.OutboundPayload = ""
			}
		}
		if r.Status.Terminal() && r.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of records held.
func (s *StatusStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
