package ranking

import (
	"context"
	"errors"
	"sync"
)

// SnapshotStore persists completed ranking computations and serves
// per-category reads pinned to a single computation.
//
// SaveSnapshot is all-or-nothing: either the computation row and every
// child row commit together, or nothing does. A partially written cycle
// must never become readable as current.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// CurrentComputation returns the most recent computation, or
	// ErrNoComputation when none has completed yet.
	CurrentComputation(ctx context.Context) (*Computation, error)

	ReviewerTrustFor(ctx context.Context, computationID string) ([]ReviewerTrust, error)
	PromptQualityFor(ctx context.Context, computationID string) ([]PromptQuality, error)
	BenchmarkQualityFor(ctx context.Context, computationID string) ([]BenchmarkQuality, error)
	ModelPerformanceFor(ctx context.Context, computationID string) ([]ModelPerformance, error)
	ModelEloFor(ctx context.Context, computationID string) ([]ModelElo, error)
	ContributorScoresFor(ctx context.Context, computationID string) ([]ContributorScore, error)
}

// InMemoryStore is an in-memory SnapshotStore. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots []*Snapshot // append order is computation order
}

// NewInMemoryStore creates a new in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SaveSnapshot validates and stores a snapshot. The append under the write
// lock is the commit point: readers either see the whole snapshot or none
// of it.
func (s *InMemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := *snap
	s.snapshots = append(s.snapshots, &snapCopy)
	return nil
}

// CurrentComputation returns the most recent computation.
func (s *InMemoryStore) CurrentComputation(ctx context.Context) (*Computation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, ErrNoComputation
	}
	c := s.snapshots[len(s.snapshots)-1].Computation
	return &c, nil
}

// find returns the snapshot for a computation ID. Caller must hold at
// least a read lock.
func (s *InMemoryStore) find(computationID string) *Snapshot {
	for _, snap := range s.snapshots {
		if snap.Computation.ID == computationID {
			return snap
		}
	}
	return nil
}

// ReviewerTrustFor returns the reviewer trust rows of a computation.
func (s *InMemoryStore) ReviewerTrustFor(ctx context.Context, computationID string) ([]ReviewerTrust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]ReviewerTrust(nil), snap.ReviewerTrust...), nil
}

// PromptQualityFor returns the prompt quality rows of a computation.
func (s *InMemoryStore) PromptQualityFor(ctx context.Context, computationID string) ([]PromptQuality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]PromptQuality(nil), snap.PromptQuality...), nil
}

// BenchmarkQualityFor returns the benchmark quality rows of a computation.
func (s *InMemoryStore) BenchmarkQualityFor(ctx context.Context, computationID string) ([]BenchmarkQuality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]BenchmarkQuality(nil), snap.BenchmarkQuality...), nil
}

// ModelPerformanceFor returns the model performance rows of a computation.
func (s *InMemoryStore) ModelPerformanceFor(ctx context.Context, computationID string) ([]ModelPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]ModelPerformance(nil), snap.ModelPerformance...), nil
}

// ModelEloFor returns the model Elo rows of a computation.
func (s *InMemoryStore) ModelEloFor(ctx context.Context, computationID string) ([]ModelElo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]ModelElo(nil), snap.ModelElo...), nil
}

// ContributorScoresFor returns the contributor score rows of a computation.
func (s *InMemoryStore) ContributorScoresFor(ctx context.Context, computationID string) ([]ContributorScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.find(computationID)
	if snap == nil {
		return nil, ErrNoComputation
	}
	return append([]ContributorScore(nil), snap.ContributorScores...), nil
}

// Reader serves "current" snapshot reads. Every read resolves the current
// computation ID exactly once and passes it to each child query, so rows
// from two computations never mix within one read even if a new snapshot
// commits mid-read.
type Reader struct {
	store SnapshotStore
}

// NewReader creates a current-snapshot reader over a store.
func NewReader(store SnapshotStore) *Reader {
	return &Reader{store: store}
}

// Current returns the current computation.
func (r *Reader) Current(ctx context.Context) (*Computation, error) {
	return r.store.CurrentComputation(ctx)
}

// CurrentReviewerTrust returns the current reviewer trust rows.
func (r *Reader) CurrentReviewerTrust(ctx context.Context) (*Computation, []ReviewerTrust, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.ReviewerTrustFor(ctx, c.ID)
	return c, rows, err
}

// CurrentPromptQuality returns the current prompt quality rows.
func (r *Reader) CurrentPromptQuality(ctx context.Context) (*Computation, []PromptQuality, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.PromptQualityFor(ctx, c.ID)
	return c, rows, err
}

// CurrentBenchmarkQuality returns the current benchmark quality rows.
func (r *Reader) CurrentBenchmarkQuality(ctx context.Context) (*Computation, []BenchmarkQuality, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.BenchmarkQualityFor(ctx, c.ID)
	return c, rows, err
}

// CurrentModelPerformance returns the current model performance rows.
func (r *Reader) CurrentModelPerformance(ctx context.Context) (*Computation, []ModelPerformance, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.ModelPerformanceFor(ctx, c.ID)
	return c, rows, err
}

// CurrentModelElo returns the current model Elo rows.
func (r *Reader) CurrentModelElo(ctx context.Context) (*Computation, []ModelElo, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.ModelEloFor(ctx, c.ID)
	return c, rows, err
}

// CurrentContributorScores returns the current contributor score rows.
func (r *Reader) CurrentContributorScores(ctx context.Context) (*Computation, []ContributorScore, error) {
	c, err := r.store.CurrentComputation(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.store.ContributorScoresFor(ctx, c.ID)
	return c, rows, err
}

// ContributorScores returns the current contributor scores keyed by user
// ID, for leaderboard trust weighting. Before the first computation there
// is no trust signal and every contributor is neutral, so the map is empty
// rather than an error.
func (r *Reader) ContributorScores(ctx context.Context) (map[string]float64, error) {
	_, rows, err := r.CurrentContributorScores(ctx)
	if errors.Is(err, ErrNoComputation) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.UserID] = row.Score
	}
	return out, nil
}
