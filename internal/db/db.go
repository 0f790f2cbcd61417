// Package db provides database utilities and connection handling for PromptArena.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultMaxOpenConns bounds the connection pool. Ranking recomputes run in a
// single transaction, so the pool stays small.
const DefaultMaxOpenConns = 25

// DefaultConnMaxLifetime recycles connections to avoid stale server-side state.
const DefaultConnMaxLifetime = 5 * time.Minute

// VersionQuery is the SQL query used to verify the server is reachable and
// reports its version.
const VersionQuery = "SELECT version()"

// Open connects to PostgreSQL using the given URL and verifies the connection
// with a ping bounded by ctx.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(DefaultMaxOpenConns)
	conn.SetMaxIdleConns(DefaultMaxOpenConns)
	conn.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return conn, nil
}
