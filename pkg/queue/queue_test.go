package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacedge/tacgate/pkg/queue"
	"github.com/tacedge/tacgate/pkg/types"
)

func mkEntry(id string, p types.Precedence, created time.Time) *queue.Entry {
	return &queue.Entry{
		MessageID:        id,
		Recipient:        "NODE-ZULU",
		EncryptedContent: "ciphertext",
		Precedence:       p,
		CreatedAt:        created,
		ExpiresAt:        created.Add(time.Hour),
	}
}

func TestMemoryStore_FIFOWithinClass(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	base := time.Now()

	_, err := store.Enqueue(ctx, mkEntry("a", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("b", types.PrecedenceFlash, base.Add(time.Second)))
	require.NoError(t, err)

	first, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	second, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)

	assert.Equal(t, "a", first.MessageID)
	assert.Equal(t, "b", second.MessageID)

	empty, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMemoryStore_RequeueMovesEntryToTail(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	base := time.Now()

	_, err := store.Enqueue(ctx, mkEntry("retry", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("fresh", types.PrecedenceFlash, base.Add(time.Second)))
	require.NoError(t, err)

	head, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	require.Equal(t, "retry", head.MessageID)
	require.NoError(t, store.Requeue(ctx, head))

	next, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, "fresh", next.MessageID, "requeued entry must not return to the head")

	last, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, "retry", last.MessageID)
}

func TestMemoryStore_EnqueueOnce(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	e := mkEntry("dup", types.PrecedenceRoutine, time.Now())

	_, err := store.Enqueue(ctx, e)
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, mkEntry("dup", types.PrecedenceRoutine, time.Now()))
	assert.ErrorIs(t, err, queue.ErrAlreadyQueued)

	// Release clears the guard; the id is accepted again.
	require.NoError(t, store.Release(ctx, "dup"))
	_, err = store.Enqueue(ctx, mkEntry("dup", types.PrecedenceRoutine, time.Now()))
	assert.NoError(t, err)
}

func TestMemoryStore_PositionIsPerClass(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	base := time.Now()

	pos, err := store.Enqueue(ctx, mkEntry("r1", types.PrecedenceRoutine, base))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	pos, err = store.Enqueue(ctx, mkEntry("f1", types.PrecedenceFlash, base.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos, "position counts within the class, not globally")

	pos, err = store.Enqueue(ctx, mkEntry("r2", types.PrecedenceRoutine, base.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
}

func TestMemoryStore_DepthAndOldest(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	oldest, err := store.OldestCreatedAt(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Nil(t, oldest)

	_, err = store.Enqueue(ctx, mkEntry("b", types.PrecedenceFlash, base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("a", types.PrecedenceFlash, base))
	require.NoError(t, err)

	depth, err := store.Depth(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	oldest, err = store.OldestCreatedAt(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, base, *oldest)
}

// brittleStore wraps MemoryStore and fails every operation while
// healthy is false. Stands in for a dead redis.
type brittleStore struct {
	*queue.MemoryStore
	healthy bool
}

var errBackendDown = errors.New("backend down")

func (s *brittleStore) Enqueue(ctx context.Context, e *queue.Entry) (int64, error) {
	if !s.healthy {
		return 0, errBackendDown
	}
	return s.MemoryStore.Enqueue(ctx, e)
}

func (s *brittleStore) Ping(ctx context.Context) error {
	if !s.healthy {
		return errBackendDown
	}
	return nil
}

func (s *brittleStore) Backend() string { return "redis" }

func TestManager_DegradesToFallbackWhenPrimaryDown(t *testing.T) {
	ctx := context.Background()
	primary := &brittleStore{MemoryStore: queue.NewMemoryStore(), healthy: false}
	m := queue.NewManager(ctx, primary)

	assert.True(t, m.Degraded())
	assert.Equal(t, "memory", m.Backend())

	pos, err := m.Enqueue(ctx, mkEntry("m1", types.PrecedenceFlash, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	depth, err := m.Depth(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestManager_DegradesMidFlight(t *testing.T) {
	ctx := context.Background()
	primary := &brittleStore{MemoryStore: queue.NewMemoryStore(), healthy: true}
	m := queue.NewManager(ctx, primary)
	require.False(t, m.Degraded())

	primary.healthy = false
	_, err := m.Enqueue(ctx, mkEntry("m1", types.PrecedenceFlash, time.Now()))
	require.NoError(t, err, "enqueue must survive a primary failure")
	assert.True(t, m.Degraded())
	assert.Equal(t, "memory", m.Backend())
}

func TestManager_RestorePrimaryMovesEntries(t *testing.T) {
	ctx := context.Background()
	primary := &brittleStore{MemoryStore: queue.NewMemoryStore(), healthy: false}
	m := queue.NewManager(ctx, primary)

	base := time.Now()
	_, err := m.Enqueue(ctx, mkEntry("m1", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, mkEntry("m2", types.PrecedenceRoutine, base.Add(time.Second)))
	require.NoError(t, err)

	assert.False(t, m.RestorePrimary(ctx), "unhealthy primary stays degraded")

	primary.healthy = true
	require.True(t, m.RestorePrimary(ctx))
	assert.False(t, m.Degraded())
	assert.Equal(t, "redis", m.Backend())

	depth, err := primary.MemoryStore.Depth(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
	depth, err = primary.MemoryStore.Depth(ctx, types.PrecedenceRoutine)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestManager_ExpiredLast24h(t *testing.T) {
	m := queue.NewManager(context.Background(), nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	m.RecordExpiry()
	m.RecordExpiry()
	assert.Equal(t, 2, m.ExpiredLast24h())

	now = now.Add(25 * time.Hour)
	assert.Equal(t, 0, m.ExpiredLast24h(), "window slides")
}

func TestManager_Status(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(ctx, nil)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	_, err := m.Enqueue(ctx, mkEntry("f1", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, mkEntry("r1", types.PrecedenceRoutine, base.Add(time.Minute)))
	require.NoError(t, err)

	st, err := m.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, "memory", st.Backend)
	assert.Equal(t, int64(2), st.TotalDepth)
	assert.Equal(t, int64(1), st.Classes[types.PrecedenceFlash].Depth)
	require.NotNil(t, st.Classes[types.PrecedenceFlash].Oldest)
	assert.Equal(t, base, *st.Classes[types.PrecedenceFlash].Oldest)
	assert.Nil(t, st.Classes[types.PrecedenceImmediate].Oldest)
}
