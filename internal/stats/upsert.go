// Package stats provides counters for bulk upsert progress reporting.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats tracks cumulative outcomes of a bulk upsert run: rows
// inserted, rows whose state changed, and rows already converged that the
// run left untouched. Safe for concurrent use.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
	skipped  atomic.Int64
}

// NewUpsertStats returns a zeroed counter set.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

func (s *UpsertStats) RecordInsert() { s.inserted.Add(1) }
func (s *UpsertStats) RecordUpdate() { s.updated.Add(1) }

// RecordSkip counts a row that already held the target state, converged
// without a write.
func (s *UpsertStats) RecordSkip() { s.skipped.Add(1) }

func (s *UpsertStats) Inserted() int64 { return s.inserted.Load() }
func (s *UpsertStats) Updated() int64  { return s.updated.Load() }
func (s *UpsertStats) Skipped() int64  { return s.skipped.Load() }

// Total returns the number of rows processed so far.
func (s *UpsertStats) Total() int64 {
	return s.Inserted() + s.Updated() + s.Skipped()
}

// Reset zeroes all counters.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
	s.skipped.Store(0)
}

func (s *UpsertStats) String() string {
	return fmt.Sprintf("inserted=%d updated=%d skipped=%d total=%d",
		s.Inserted(), s.Updated(), s.Skipped(), s.Total())
}

// LogSummary emits the counters at INFO level, for periodic reporting
// during long bulk runs.
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	logger.Info("upsert statistics",
		"entity", entity,
		"inserted", s.Inserted(),
		"updated", s.Updated(),
		"skipped", s.Skipped(),
		"total", s.Total(),
	)
}
