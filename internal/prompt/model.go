// Package prompt provides models, repositories, and the filtered query
// path for benchmark prompts, model responses, and scores.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/promptarena/promptarena/internal/access"
)

// Common errors for prompt operations.
var (
	ErrPromptNotFound     = errors.New("prompt not found")
	ErrAssignmentNotFound = errors.New("prompt assignment not found")
	ErrResponseNotFound   = errors.New("response not found")
	ErrInvalidScoreValue  = errors.New("invalid score value: must be between 0.0 and 1.0")
	ErrInvalidTransition  = errors.New("invalid assignment status transition")
)

// Score thresholds used for the good/bad score breakdown in enriched
// query results.
const (
	GoodScoreThreshold = 0.7
	BadScoreThreshold  = 0.3
)

// ScoreMethod identifies how a score was produced.
type ScoreMethod string

// Score methods.
const (
	MethodHuman ScoreMethod = "human"
	MethodAI    ScoreMethod = "ai"
	MethodAlgo  ScoreMethod = "algo"
)

// Prompt is an immutable benchmark prompt identified by its content hash.
// Question content is hidden from callers until IsRevealed is set; the
// query layer blanks the content for callers without manager access.
type Prompt struct {
	ID         string   `json:"id"`
	CID        string   `json:"cid"`
	SHA256     string   `json:"sha256"`
	Question   string   `json:"question,omitempty"`
	PromptType string   `json:"prompt_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	UploaderID string   `json:"uploader_id"`
	IsRevealed bool     `json:"is_revealed"`

	CreatedAt time.Time `json:"created_at"`
}

// HashContent computes the hex-encoded SHA-256 digest of prompt content.
// The digest doubles as the dedup key for identical uploads.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Assignment binds a prompt to a prompt set with a tri-state lifecycle:
// draft -> included <-> excluded.
type Assignment struct {
	PromptID    string                  `json:"prompt_id"`
	PromptSetID string                  `json:"prompt_set_id"`
	Status      access.AssignmentStatus `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// ValidTransition reports whether moving an assignment from one status to
// another is structurally allowed by the lifecycle. Role checks are
// separate (access.CanTransition).
func ValidTransition(from, to access.AssignmentStatus) bool {
	if from == to {
		return true // idempotent no-op
	}
	switch from {
	case access.StatusDraft:
		return to == access.StatusIncluded
	case access.StatusIncluded:
		return to == access.StatusExcluded
	case access.StatusExcluded:
		return to == access.StatusIncluded
	}
	return false
}

// Response is one model's answer to one prompt, tagged with the run that
// produced it and latency accounting.
type Response struct {
	ID        string `json:"id"`
	PromptID  string `json:"prompt_id"`
	ModelSlug string `json:"model_slug"`
	RunID     string `json:"run_id"`
	Answer    string `json:"answer,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Optional token/cost accounting.
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LatencyMS returns the response latency in milliseconds, or 0 when the
// timestamps are missing or inverted.
func (r *Response) LatencyMS() float64 {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return float64(r.FinishedAt.Sub(r.StartedAt)) / float64(time.Millisecond)
}

// Score is a judgement of one response, valued in [0,1], with provenance
// pointing at either a human scorer or a judge model.
type Score struct {
	ID         string      `json:"id"`
	ResponseID string      `json:"response_id"`
	Method     ScoreMethod `json:"method"`
	Value      float64     `json:"value"`

	ScorerUserID  *string `json:"scorer_user_id,omitempty"`
	ScorerModelID *string `json:"scorer_model_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks score structural invariants.
func (s *Score) Validate() error {
	if s.Value < 0.0 || s.Value > 1.0 {
		return ErrInvalidScoreValue
	}
	return nil
}

// QuickFeedback is a lightweight thumbs-style signal on a prompt, counted
// in enriched query results but excluded from leaderboard aggregation.
type QuickFeedback struct {
	PromptID  string    `json:"prompt_id"`
	UserID    string    `json:"user_id"`
	Positive  bool      `json:"positive"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelStat is the per-model aggregate attached to an enriched prompt.
type ModelStat struct {
	ModelSlug    string  `json:"model_slug"`
	ScoreCount   int     `json:"score_count"`
	AvgScore     float64 `json:"avg_score"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// SetMembershipInfo describes one prompt-set assignment of an enriched
// prompt, with the caller's capability flags for that set.
type SetMembershipInfo struct {
	PromptSetID string                  `json:"prompt_set_id"`
	Status      access.AssignmentStatus `json:"status"`
	CanExclude  bool                    `json:"can_exclude"`
	CanInclude  bool                    `json:"can_include"`
}

// EnrichedPrompt is a prompt decorated with the aggregated statistics the
// listing API exposes.
type EnrichedPrompt struct {
	Prompt

	ScoreCount         int     `json:"score_count"`
	GoodScoreCount     int     `json:"good_score_count"`
	BadScoreCount      int     `json:"bad_score_count"`
	AvgScore           float64 `json:"avg_score"`
	ReviewCount        int     `json:"review_count"`
	QuickFeedbackCount int     `json:"quick_feedback_count"`

	ModelStats []ModelStat         `json:"model_stats,omitempty"`
	Sets       []SetMembershipInfo `json:"sets,omitempty"`
}
