package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tacedge/tacgate/pkg/types"
)

const (
	queueKeyPrefix = "tacgate:queue:"
	guardKeyPrefix = "tacgate:msg:"
)

// RedisStore keeps one sorted set per precedence class, scored by
// creation time, so the oldest entry always pops first. A per-message
// guard key with the entry's TTL enforces enqueue-once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects using a redis URL (redis://host:port/db).
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used in tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func queueKey(p types.Precedence) string { return queueKeyPrefix + string(p) }
func guardKey(messageID string) string   { return guardKeyPrefix + messageID }

func (s *RedisStore) Enqueue(ctx context.Context, e *Entry) (int64, error) {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, guardKey(e.MessageID), "1", ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: set guard: %w", err)
	}
	if !ok {
		return 0, ErrAlreadyQueued
	}

	member, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("queue: marshal entry: %w", err)
	}
	key := queueKey(e.Precedence)
	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(e.CreatedAt.Unix()),
		Member: member,
	}).Err(); err != nil {
		return 0, fmt.Errorf("queue: zadd: %w", err)
	}

	rank, err := s.client.ZRank(ctx, key, string(member)).Result()
	if err != nil {
		// Entry was stored; position is best effort.
		return 1, nil
	}
	return rank + 1, nil
}

// Requeue scores by requeue time rather than creation time, so a
// retried entry lands at the tail of its class instead of returning to
// the head and starving everything behind it.
func (s *RedisStore) Requeue(ctx context.Context, e *Entry) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("queue: marshal entry: %w", err)
	}
	if err := s.client.ZAdd(ctx, queueKey(e.Precedence), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("queue: requeue: %w", err)
	}
	return nil
}

func (s *RedisStore) Dequeue(ctx context.Context, p types.Precedence) (*Entry, error) {
	popped, err := s.client.ZPopMin(ctx, queueKey(p), 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue: zpopmin: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	member, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("queue: unexpected member type %T", popped[0].Member)
	}
	var e Entry
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return nil, fmt.Errorf("queue: unmarshal entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) Release(ctx context.Context, messageID string) error {
	if err := s.client.Del(ctx, guardKey(messageID)).Err(); err != nil {
		return fmt.Errorf("queue: release guard: %w", err)
	}
	return nil
}

func (s *RedisStore) Depth(ctx context.Context, p types.Precedence) (int64, error) {
	n, err := s.client.ZCard(ctx, queueKey(p)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: zcard: %w", err)
	}
	return n, nil
}

func (s *RedisStore) OldestCreatedAt(ctx context.Context, p types.Precedence) (*time.Time, error) {
	zs, err := s.client.ZRangeWithScores(ctx, queueKey(p), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: zrange: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	t := time.Unix(int64(zs[0].Score), 0).UTC()
	return &t, nil
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
