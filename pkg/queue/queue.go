// Package queue implements the store-and-forward message queue: a
// redis-backed priority store with an in-memory fallback, and the drain
// worker that redelivers when destinations reconnect.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tacedge/tacgate/pkg/types"
)

// ErrAlreadyQueued rejects a second enqueue for the same message id
// while the first is still pending or within its guard window.
var ErrAlreadyQueued = errors.New("queue: message already queued")

// Entry is one stored message awaiting delivery.
type Entry struct {
	MessageID        string           `json:"message_id"`
	Recipient        string           `json:"recipient"`
	EncryptedContent string           `json:"encrypted_content"`
	Precedence       types.Precedence `json:"precedence"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	RetryCount       int              `json:"retry_count"`
}

// Expired reports whether the entry's TTL has lapsed at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is a priority queue backend. Entries within one precedence
// class drain oldest-first; classes drain in types.PrecedenceOrder.
type Store interface {
	// Enqueue stores a new entry and returns its 1-based position within
	// its precedence class. A message id that is already guarded fails
	// with ErrAlreadyQueued.
	Enqueue(ctx context.Context, e *Entry) (int64, error)

	// Requeue puts a previously dequeued entry back without touching the
	// duplicate guard. Used for redelivery retries.
	Requeue(ctx context.Context, e *Entry) error

	// Dequeue pops the oldest entry of the class, or (nil, nil) when the
	// class is empty.
	Dequeue(ctx context.Context, p types.Precedence) (*Entry, error)

	// Release drops the duplicate guard for a message id once it has
	// been delivered or expired.
	Release(ctx context.Context, messageID string) error

	// Depth returns the number of entries stored for the class.
	Depth(ctx context.Context, p types.Precedence) (int64, error)

	// OldestCreatedAt returns the creation time of the oldest entry in
	// the class, or nil when the class is empty.
	OldestCreatedAt(ctx context.Context, p types.Precedence) (*time.Time, error)

	// Backend names the implementation ("redis" or "memory").
	Backend() string

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	Close() error
}
