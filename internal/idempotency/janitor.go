package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxAge is how long replay records are kept. A day comfortably
// covers client retry windows without letting the store grow unbounded.
const DefaultMaxAge = 24 * time.Hour

// Janitor periodically purges expired replay records from a store.
type Janitor struct {
	store    Store
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor for the given store. Zero interval or
// maxAge fall back to hourly sweeps and DefaultMaxAge.
func NewJanitor(store Store, interval, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{store: store, interval: interval, maxAge: maxAge, logger: logger}
}

// Run sweeps the store on the configured interval until ctx is cancelled.
// It blocks; run it in a goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-ctx.Done():
			j.logger.Info("idempotency janitor stopping")
			return
		}
	}
}

func (j *Janitor) sweep() {
	removed, err := j.store.Purge(j.maxAge)
	if err != nil {
		j.logger.Error("failed to purge replay records", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("purged expired replay records", "removed", removed, "max_age", j.maxAge)
	}
}
