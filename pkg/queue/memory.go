package queue

import (
	"context"
	"sync"
	"time"

	"github.com/tacedge/tacgate/pkg/types"
)

// MemoryStore is the in-process fallback backend. It preserves the
// redis store's semantics: oldest-first within a class, enqueue-once
// per message id.
type MemoryStore struct {
	mu      sync.Mutex
	classes map[types.Precedence][]*Entry
	guarded map[string]bool
}

// NewMemoryStore creates an empty in-memory queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes: make(map[types.Precedence][]*Entry),
		guarded: make(map[string]bool),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, e *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guarded[e.MessageID] {
		return 0, ErrAlreadyQueued
	}
	s.guarded[e.MessageID] = true
	s.insertLocked(e)
	return s.positionLocked(e), nil
}

// Requeue appends at the tail of the class, so a retried entry never
// jumps ahead of entries that have not failed yet.
func (s *MemoryStore) Requeue(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[e.Precedence] = append(s.classes[e.Precedence], e)
	return nil
}

// insertLocked keeps the class slice ordered by creation time.
func (s *MemoryStore) insertLocked(e *Entry) {
	entries := s.classes[e.Precedence]
	i := len(entries)
	for i > 0 && entries[i-1].CreatedAt.After(e.CreatedAt) {
		i--
	}
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	s.classes[e.Precedence] = entries
}

func (s *MemoryStore) positionLocked(e *Entry) int64 {
	for i, stored := range s.classes[e.Precedence] {
		if stored == e {
			return int64(i + 1)
		}
	}
	return int64(len(s.classes[e.Precedence]))
}

func (s *MemoryStore) Dequeue(_ context.Context, p types.Precedence) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.classes[p]
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	s.classes[p] = entries[1:]
	return e, nil
}

func (s *MemoryStore) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.guarded, messageID)
	return nil
}

func (s *MemoryStore) Depth(_ context.Context, p types.Precedence) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.classes[p])), nil
}

func (s *MemoryStore) OldestCreatedAt(_ context.Context, p types.Precedence) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.classes[p]
	if len(entries) == 0 {
		return nil, nil
	}
	t := entries[0].CreatedAt.UTC()
	return &t, nil
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
