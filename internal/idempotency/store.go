package idempotency

import (
	"sync"
	"time"
)

// MemoryStore is a Store backed by a process-local map. Records do not
// survive restarts, which is acceptable for replay protection: a retry
// after a restart re-runs an operation that is itself idempotent.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory replay store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Lookup returns the record for key, or ErrNotFound.
func (s *MemoryStore) Lookup(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate the stored record.
	out := rec
	return &out, nil
}

// Save persists a new record, rejecting duplicates.
func (s *MemoryStore) Save(rec *Record) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.records[rec.Key]; taken {
		return ErrDuplicate
	}

	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.records[rec.Key] = stored
	return nil
}

// Purge removes records created before now-maxAge.
func (s *MemoryStore) Purge(maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed int64
	for key, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
