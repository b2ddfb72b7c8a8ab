package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounterStore implements CounterStore on Redis so limits are shared
// across instances
type RedisCounterStore struct {
	redis *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store
func NewRedisCounterStore(redisClient *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{redis: redisClient}
}

// Increment bumps key for windowID. The counter key embeds the window id, so
// a new window always starts from zero; the TTL only reclaims memory.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, windowID int64, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("%s:%d", key, windowID)

	var incr *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val(), nil
}

// Reset clears the counter for key in windowID (for admin purposes)
func (s *RedisCounterStore) Reset(ctx context.Context, key string, windowID int64) error {
	return s.redis.Del(ctx, fmt.Sprintf("%s:%d", key, windowID)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (s *RedisCounterStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
