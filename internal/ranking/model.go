package ranking

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoComputation is returned when no completed ranking computation
	// exists yet.
	ErrNoComputation = errors.New("no ranking computation available")

	// ErrInconsistentSnapshot is returned when a snapshot's child rows do
	// not all reference its computation.
	ErrInconsistentSnapshot = errors.New("snapshot rows reference multiple computations")
)

// Computation identifies one immutable ranking snapshot. Child rows
// reference exactly one computation ID; "current" state for any category is
// the child rows of the most recent computation. Computations are never
// updated in place, a newer one supersedes by being more recent and old
// rows stay behind for history.
type Computation struct {
	ID          string    `json:"id"`
	ComputedAt  time.Time `json:"computed_at"`
	PromptCount int       `json:"prompt_count"`
	ScoreCount  int       `json:"score_count"`
	ModelCount  int       `json:"model_count"`
}

// ReviewerTrust is one reviewer's agreement-derived trust in a computation.
type ReviewerTrust struct {
	ComputationID string  `json:"computation_id"`
	UserID        string  `json:"user_id"`
	Trust         float64 `json:"trust"`
	ReviewCount   int     `json:"review_count"`
}

// PromptQuality scores how well one prompt separates models, in [0, 1].
type PromptQuality struct {
	ComputationID string  `json:"computation_id"`
	PromptID      string  `json:"prompt_id"`
	Quality       float64 `json:"quality"`
	ScoreCount    int     `json:"score_count"`
}

// BenchmarkQuality rolls prompt quality up to a prompt set.
type BenchmarkQuality struct {
	ComputationID string  `json:"computation_id"`
	PromptSetID   string  `json:"prompt_set_id"`
	Quality       float64 `json:"quality"`
	PromptCount   int     `json:"prompt_count"`
}

// ModelPerformance is one model's weighted leaderboard row in a
// computation.
type ModelPerformance struct {
	ComputationID    string  `json:"computation_id"`
	ModelSlug        string  `json:"model_slug"`
	WeightedAvgScore float64 `json:"weighted_avg_score"`
	AvgScore         float64 `json:"avg_score"`
	ScoreCount       int     `json:"score_count"`
	PromptsScored    int     `json:"prompts_scored"`
	Coverage         float64 `json:"coverage"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
}

// ModelElo is one model's pairwise rating state in a computation.
type ModelElo struct {
	ComputationID string  `json:"computation_id"`
	ModelSlug     string  `json:"model_slug"`
	EloScore      float64 `json:"elo_score"`
	WinCount      int     `json:"win_count"`
	LossCount     int     `json:"loss_count"`
	DrawCount     int     `json:"draw_count"`
	MatchCount    int     `json:"match_count"`
}

// ContributorScore is one uploader's derived [0, 1] quality measure in a
// computation, used to weight their prompts' influence on leaderboards.
type ContributorScore struct {
	ComputationID string  `json:"computation_id"`
	UserID        string  `json:"user_id"`
	Score         float64 `json:"score"`
	PromptCount   int     `json:"prompt_count"`
}

// Snapshot is one fully computed ranking cycle: the computation row plus
// every child category. It commits as a unit or not at all.
type Snapshot struct {
	Computation       Computation
	ReviewerTrust     []ReviewerTrust
	PromptQuality     []PromptQuality
	BenchmarkQuality  []BenchmarkQuality
	ModelPerformance  []ModelPerformance
	ModelElo          []ModelElo
	ContributorScores []ContributorScore
}

// Validate checks internal consistency: a non-empty computation ID that
// every child row references.
func (s *Snapshot) Validate() error {
	if s.Computation.ID == "" {
		return errors.New("snapshot has no computation id")
	}
	id := s.Computation.ID

	for _, r := range s.ReviewerTrust {
		if r.ComputationID != id {
			return fmt.Errorf("%w: reviewer trust for %s references %s", ErrInconsistentSnapshot, r.UserID, r.ComputationID)
		}
	}
	for _, r := range s.PromptQuality {
		if r.ComputationID != id {
			return fmt.Errorf("%w: prompt quality for %s references %s", ErrInconsistentSnapshot, r.PromptID, r.ComputationID)
		}
	}
	for _, r := range s.BenchmarkQuality {
		if r.ComputationID != id {
			return fmt.Errorf("%w: benchmark quality for %s references %s", ErrInconsistentSnapshot, r.PromptSetID, r.ComputationID)
		}
	}
	for _, r := range s.ModelPerformance {
		if r.ComputationID != id {
			return fmt.Errorf("%w: model performance for %s references %s", ErrInconsistentSnapshot, r.ModelSlug, r.ComputationID)
		}
	}
	for _, r := range s.ModelElo {
		if r.ComputationID != id {
			return fmt.Errorf("%w: model elo for %s references %s", ErrInconsistentSnapshot, r.ModelSlug, r.ComputationID)
		}
	}
	for _, r := range s.ContributorScores {
		if r.ComputationID != id {
			return fmt.Errorf("%w: contributor score for %s references %s", ErrInconsistentSnapshot, r.UserID, r.ComputationID)
		}
	}
	return nil
}
