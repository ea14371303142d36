// Package ratelimit provides a Redis-backed counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore keeps sliding-window buckets in Redis so several
// engine instances can share counts. Keys carry the window start and
// expire two windows after they open, which makes explicit cleanup a
// no-op.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore wraps an existing Redis client.
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "quotaguard"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

// DialRedisCounterStore connects to addr and verifies the connection.
func DialRedisCounterStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisCounterStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, Wrap(CodeStoreUnavailable, "connect to redis", err)
	}
	return NewRedisCounterStore(client, prefix), nil
}

// Close releases the client.
func (r *RedisCounterStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Increment adds one to the bucket covering now and returns the new count.
// INCR is atomic server side, so concurrent increments are never lost.
func (r *RedisCounterStore) Increment(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	bucket := r.bucketKey(key, window, now)
	count, err := r.client.Incr(ctx, bucket).Result()
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "increment bucket", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, 2*window).Err(); err != nil {
			return 0, Wrap(CodeStoreUnavailable, "set bucket expiry", err)
		}
	}
	return count, nil
}

// CurrentCount returns the count of the bucket covering now.
func (r *RedisCounterStore) CurrentCount(ctx context.Context, key CounterKey, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidInput
	}
	count, err := r.client.Get(ctx, r.bucketKey(key, window, now)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, Wrap(CodeStoreUnavailable, "read bucket", err)
	}
	return count, nil
}

// DeleteExpiredBuckets is a no-op: every bucket key carries a TTL and
// Redis evicts it on its own.
func (r *RedisCounterStore) DeleteExpiredBuckets(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisCounterStore) bucketKey(key CounterKey, window time.Duration, now time.Time) string {
	start := windowStart(now, window)
	return fmt.Sprintf("%s:bucket:%d:%s:%s:%s:%s:%d:%d",
		r.prefix, key.RuleID, key.SystemID, key.Scope, key.ScopeValue, key.ResourceType, int64(window), start.Unix())
}
