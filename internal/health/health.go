// Package health probes the service's external dependencies for the
// readiness endpoint.
package health

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// DBChecker reports Postgres connectivity.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker wraps the given connection pool.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database, honoring the context deadline.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// RedisChecker reports cache connectivity. Redis is optional in this
// service, so the readiness handler only consults it when configured.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker wraps the given Redis client.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends PING, honoring the context deadline.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
