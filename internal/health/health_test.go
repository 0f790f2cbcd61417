package health

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestRedisChecker_CancelledContext(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	checker := NewRedisChecker(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context or unreachable address both surface as errors;
	// either way the probe must not hang.
	if err := checker.HealthCheck(ctx); err == nil {
		t.Error("expected an error probing an unreachable Redis with a cancelled context")
	}
}
