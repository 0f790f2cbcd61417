// Package leaderboard computes weighted per-model score aggregates over a
// filtered prompt population, with calibration support for decay curves and
// reviewer trust.
package leaderboard

import (
	"math"
	"sort"
	"time"

	"github.com/promptarena/promptarena/internal/prompt"
)

// DecayMode selects the curve applied to time-based score weighting.
type DecayMode string

// Decay modes.
const (
	DecayNone        DecayMode = "none"
	DecayLinear      DecayMode = "linear"
	DecayExponential DecayMode = "exponential"
)

// Decay horizon constants, in days.
const (
	// linearHorizonDays is the age at which a linear decay weight reaches
	// zero. Scores older than this contribute nothing.
	linearHorizonDays = 365.0

	// exponentialHalfDays is the e-folding time of the exponential decay.
	exponentialHalfDays = 180.0

	// neutralTrust is the contributor score assumed for reviewers with no
	// computed trust, yielding a trust weight of exactly 1.
	neutralTrust = 0.5
)

// WeightingConfig holds the calibrated weighting parameters for one
// aggregation run.
type WeightingConfig struct {
	// PromptAgeWeighting decays score weight by the age of the prompt.
	PromptAgeWeighting DecayMode `json:"prompt_age_weighting"`

	// ResponseDelayWeighting decays score weight by how long after prompt
	// creation the response arrived, so responses generated long after a
	// prompt entered the pool count less.
	ResponseDelayWeighting DecayMode `json:"response_delay_weighting"`

	// UserWeightMultiplier scales how strongly the prompt uploader's
	// contributor trust moves a score's weight away from 1. Zero disables
	// trust weighting.
	UserWeightMultiplier float64 `json:"user_weight_multiplier"`

	// MinCoverage drops models whose scored-prompt coverage over the
	// filtered population falls below this percentage [0, 100].
	MinCoverage float64 `json:"min_coverage"`
}

// DefaultWeighting returns the default weighting configuration: no decay,
// no trust weighting, no coverage floor.
func DefaultWeighting() *WeightingConfig {
	return &WeightingConfig{
		PromptAgeWeighting:     DecayNone,
		ResponseDelayWeighting: DecayNone,
		UserWeightMultiplier:   0,
		MinCoverage:            0,
	}
}

// AgeWeight computes a time-decay weight in [0, 1] for an artifact created
// at the given time.
//
// Linear: 1 - (ageDays / 365), clamped at 0. Exponential: e^(-ageDays/180).
// Unknown modes and DecayNone return 1. Artifacts from the future clamp to
// age zero.
func AgeWeight(createdAt, now time.Time, mode DecayMode) float64 {
	if mode == DecayNone || mode == "" {
		return 1.0
	}

	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}

	switch mode {
	case DecayLinear:
		w := 1.0 - ageDays/linearHorizonDays
		if w < 0 {
			return 0
		}
		return w
	case DecayExponential:
		return math.Exp(-ageDays / exponentialHalfDays)
	default:
		return 1.0
	}
}

// DelayWeight computes the response-delay weight: the same decay curves as
// AgeWeight, applied to the gap between prompt creation and the response.
// Responses recorded before their prompt clamp to zero delay.
func DelayWeight(promptCreatedAt, respondedAt time.Time, mode DecayMode) float64 {
	return AgeWeight(promptCreatedAt, respondedAt, mode)
}

// TrustWeight computes an uploader trust weight from a contributor score
// in [0, 1].
//
// Formula: 1 + multiplier * (contributorScore - 0.5). A neutral uploader
// (score 0.5) or a zero multiplier yields exactly 1, so trust weighting is
// a no-op unless both a trust signal and a multiplier are present. The
// result is clamped at 0 so a strongly distrusted uploader's prompts can
// be nulled but never inverted.
func TrustWeight(contributorScore, multiplier float64) float64 {
	w := 1.0 + multiplier*(contributorScore-neutralTrust)
	if w < 0 {
		return 0
	}
	return w
}

// Entry is one model's row in a computed leaderboard.
type Entry struct {
	ModelSlug string `json:"model_slug"`

	// WeightedAvgScore is the decay- and trust-weighted average score.
	WeightedAvgScore float64 `json:"weighted_avg_score"`

	// AvgScore is the unweighted average, reported alongside so weighting
	// effects stay inspectable.
	AvgScore float64 `json:"avg_score"`

	ScoreCount    int `json:"score_count"`
	PromptsScored int `json:"prompts_scored"`

	// Coverage is the percentage [0, 100] of the filtered population this
	// model has been scored against.
	Coverage     float64 `json:"coverage"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Input is the population one aggregation run operates on.
type Input struct {
	// Prompts is the full filtered population. Its length is the single
	// coverage denominator shared by every model in the run.
	Prompts []*prompt.ScoredPrompt

	// Trust maps uploader user IDs to contributor scores in [0, 1].
	// Uploaders absent from the map count as neutral.
	Trust map[string]float64

	// Now anchors the decay curves. A zero value uses the current time.
	Now time.Time
}

// Compute aggregates the input into per-model leaderboard entries, sorted
// by weighted average descending.
//
// Each score's weight is the product of the prompt-age weight, the
// response-delay weight, and the uploader trust weight. Models with no
// scores in the population are omitted rather than reported as zero, and
// a model whose weights all decayed to zero is likewise omitted since its
// weighted average is undefined.
func Compute(in Input, cfg *WeightingConfig) []Entry {
	if cfg == nil {
		cfg = DefaultWeighting()
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	type agg struct {
		weightedSum float64
		weightSum   float64
		rawSum      float64
		count       int
		latencySum  float64
		respCount   int
		prompts     map[string]bool
	}
	models := make(map[string]*agg)

	for _, sp := range in.Prompts {
		promptWeight := AgeWeight(sp.Prompt.CreatedAt, now, cfg.PromptAgeWeighting)

		uploaderTrust := neutralTrust
		if cs, ok := in.Trust[sp.Prompt.UploaderID]; ok {
			uploaderTrust = cs
		}
		trustWeight := TrustWeight(uploaderTrust, cfg.UserWeightMultiplier)

		for _, rws := range sp.Responses {
			a := models[rws.Response.ModelSlug]
			if a == nil {
				a = &agg{prompts: make(map[string]bool)}
				models[rws.Response.ModelSlug] = a
			}
			a.latencySum += rws.Response.LatencyMS()
			a.respCount++

			delayWeight := DelayWeight(sp.Prompt.CreatedAt, rws.Response.CreatedAt, cfg.ResponseDelayWeighting)
			w := promptWeight * delayWeight * trustWeight

			for _, s := range rws.Scores {
				a.weightedSum += w * s.Value
				a.weightSum += w
				a.rawSum += s.Value
				a.count++
				a.prompts[sp.Prompt.ID] = true
			}
		}
	}

	denominator := float64(len(in.Prompts))

	entries := make([]Entry, 0, len(models))
	for slug, a := range models {
		if a.count == 0 || a.weightSum == 0 {
			continue
		}

		e := Entry{
			ModelSlug:        slug,
			WeightedAvgScore: a.weightedSum / a.weightSum,
			AvgScore:         a.rawSum / float64(a.count),
			ScoreCount:       a.count,
			PromptsScored:    len(a.prompts),
		}
		if denominator > 0 {
			e.Coverage = float64(len(a.prompts)) / denominator * 100.0
		}
		if a.respCount > 0 {
			e.AvgLatencyMS = a.latencySum / float64(a.respCount)
		}

		// Empty denominator short-circuits the filter entirely.
		if denominator > 0 && e.Coverage < cfg.MinCoverage {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WeightedAvgScore != entries[j].WeightedAvgScore {
			return entries[i].WeightedAvgScore > entries[j].WeightedAvgScore
		}
		return entries[i].ModelSlug < entries[j].ModelSlug
	})
	return entries
}
