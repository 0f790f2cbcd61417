package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how stale a cached leaderboard may get.
const DefaultCacheTTL = 5 * time.Minute

// Cache is a read-through cache for computed leaderboards backed by Redis.
// A nil *Cache is a valid no-op cache, so callers can run without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a leaderboard cache. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// CacheKey derives a stable cache key from the query parameters that shape
// a leaderboard: the filter set and the weighting configuration. Identical
// queries share an entry, any parameter change misses.
func CacheKey(filters any, cfg *WeightingConfig) (string, error) {
	payload, err := json.Marshal(struct {
		Filters any              `json:"filters"`
		Config  *WeightingConfig `json:"config"`
	}{filters, cfg})
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return "leaderboard:" + hex.EncodeToString(sum[:16]), nil
}

// Get returns the cached entries for key, or ok=false on a miss. Transport
// errors are logged and degrade to a miss rather than failing the request.
func (c *Cache) Get(ctx context.Context, key string) ([]Entry, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("leaderboard cache read failed", "key", key, "error", err)
		return nil, false
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn("leaderboard cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return entries, true
}

// Set stores entries under key for the cache TTL. Failures are logged and
// swallowed; the computed result is still valid.
func (c *Cache) Set(ctx context.Context, key string, entries []Entry) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		c.logger.Warn("leaderboard cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("leaderboard cache write failed", "key", key, "error", err)
	}
}
