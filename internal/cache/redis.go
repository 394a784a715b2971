package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ZanzyTHEbar/onset-explainer/internal/redisconn"
)

// RedisStore keeps entries in Redis under a key prefix so that replicas of
// the server share one cache.
type RedisStore struct {
	client *redisconn.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store on an enabled client
func NewRedisStore(client *redisconn.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get returns a miss together with the error when Redis fails
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Redis().Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set stores data with the store TTL
func (s *RedisStore) Set(ctx context.Context, key string, data []byte) error {
	if err := s.client.Redis().Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes one entry
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Redis().Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Redis().Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Redis().Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return flush()
}

// Stats reports the backend and pool state
func (s *RedisStore) Stats(_ context.Context) map[string]any {
	return map[string]any{
		"backend":     "redis",
		"prefix":      s.prefix,
		"ttl_seconds": s.ttl.Seconds(),
		"pool":        s.client.PoolStats(),
	}
}

// Close is a no-op; the shared connection is closed by its owner
func (s *RedisStore) Close() error {
	return nil
}
