package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacedge/tacgate/pkg/queue"
	"github.com/tacedge/tacgate/pkg/types"
)

func newRedisStore(t *testing.T) (*queue.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := queue.NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_FIFOWithinClass(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	pos, err := store.Enqueue(ctx, mkEntry("a", types.PrecedenceImmediate, base))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	pos, err = store.Enqueue(ctx, mkEntry("b", types.PrecedenceImmediate, base.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	first, err := store.Dequeue(ctx, types.PrecedenceImmediate)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.MessageID)

	second, err := store.Dequeue(ctx, types.PrecedenceImmediate)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b", second.MessageID)

	empty, err := store.Dequeue(ctx, types.PrecedenceImmediate)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRedisStore_RequeueMovesEntryToTail(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	base := time.Now().Add(-time.Hour)

	_, err := store.Enqueue(ctx, mkEntry("retry", types.PrecedenceRoutine, base))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("fresh", types.PrecedenceRoutine, base.Add(time.Minute)))
	require.NoError(t, err)

	head, err := store.Dequeue(ctx, types.PrecedenceRoutine)
	require.NoError(t, err)
	require.Equal(t, "retry", head.MessageID)

	head.RetryCount++
	require.NoError(t, store.Requeue(ctx, head))

	next, err := store.Dequeue(ctx, types.PrecedenceRoutine)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "fresh", next.MessageID, "requeued entry must not return to the head")

	last, err := store.Dequeue(ctx, types.PrecedenceRoutine)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "retry", last.MessageID)
	assert.Equal(t, 1, last.RetryCount)
}

func TestRedisStore_EntrySurvivesRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	created := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	in := &queue.Entry{
		MessageID:        "msg-1",
		Recipient:        "NODE-ZULU",
		EncryptedContent: "gAAAAZ==",
		Precedence:       types.PrecedenceFlash,
		CreatedAt:        created,
		ExpiresAt:        created.Add(time.Hour),
		RetryCount:       2,
	}
	_, err := store.Enqueue(ctx, in)
	require.NoError(t, err)

	out, err := store.Dequeue(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.MessageID, out.MessageID)
	assert.Equal(t, in.EncryptedContent, out.EncryptedContent)
	assert.True(t, in.ExpiresAt.Equal(out.ExpiresAt))
	assert.Equal(t, 2, out.RetryCount)
}

func TestRedisStore_DuplicateGuard(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	base := time.Now()

	_, err := store.Enqueue(ctx, mkEntry("dup", types.PrecedenceRoutine, base))
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, mkEntry("dup", types.PrecedenceRoutine, base.Add(time.Second)))
	assert.ErrorIs(t, err, queue.ErrAlreadyQueued)

	assert.True(t, mr.Exists("tacgate:msg:dup"))

	require.NoError(t, store.Release(ctx, "dup"))
	assert.False(t, mr.Exists("tacgate:msg:dup"))

	_, err = store.Enqueue(ctx, mkEntry("dup", types.PrecedenceRoutine, base.Add(2*time.Second)))
	assert.NoError(t, err)
}

func TestRedisStore_GuardExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	e := mkEntry("short", types.PrecedenceRoutine, time.Now())
	e.ExpiresAt = time.Now().Add(time.Minute)
	_, err := store.Enqueue(ctx, e)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("tacgate:msg:short"), "guard carries the entry TTL")
}

func TestRedisStore_DepthAndOldest(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	depth, err := store.Depth(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, err = store.Enqueue(ctx, mkEntry("a", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("b", types.PrecedenceFlash, base.Add(time.Minute)))
	require.NoError(t, err)

	depth, err = store.Depth(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	oldest, err := store.OldestCreatedAt(ctx, types.PrecedenceFlash)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, base.Unix(), oldest.Unix())
}

func TestRedisStore_KeysArePerClass(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	base := time.Now()

	_, err := store.Enqueue(ctx, mkEntry("f", types.PrecedenceFlash, base))
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, mkEntry("r", types.PrecedenceRoutine, base))
	require.NoError(t, err)

	assert.True(t, mr.Exists("tacgate:queue:FLASH"))
	assert.True(t, mr.Exists("tacgate:queue:ROUTINE"))
}
