package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore backed by Redis, so limits
// are shared across API instances. It uses a fixed window counter: INCR on
// the key, with the expiry set when the window opens.
//
// The store fails open: if Redis is unreachable the request is allowed with
// a full quota rather than blocking traffic on a cache outage.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open on Redis errors.
		return true, config.RequestsPerWindow, 0
	}

	count := incr.Val()
	if count == 1 {
		// First request in this window; start the clock.
		if err := s.client.Expire(ctx, key, config.WindowDuration).Err(); err != nil {
			return true, config.RequestsPerWindow - 1, 0
		}
	}

	if count <= int64(config.RequestsPerWindow) {
		return true, config.RequestsPerWindow - int(count), 0
	}

	retryAfter := s.retryAfter(ctx, key, config)
	return false, 0, retryAfter
}

// retryAfter reads the key's TTL to report when the window resets.
func (s *RedisRateLimitStore) retryAfter(ctx context.Context, key string, config RateLimitConfig) int {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return int(config.WindowDuration / time.Second)
	}
	retryAfter := int(ttl.Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return retryAfter
}
