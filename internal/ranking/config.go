package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/promptarena/promptarena/internal/leaderboard"
)

// Calibration holds the tunable parameters of a ranking cycle.
type Calibration struct {
	Version string `json:"version"` // Config version for future compatibility

	// Weighting controls how individual scores are weighted before
	// aggregation (age decay, response delay decay, contributor trust,
	// minimum coverage).
	Weighting leaderboard.WeightingConfig `json:"weighting"`

	// EloK is the K-factor of the Elo update step (default: 32).
	EloK float64 `json:"elo_k"`

	// EloCarryover seeds each cycle's Elo ratings from the previous
	// computation instead of resetting everyone to the baseline.
	EloCarryover bool `json:"elo_carryover"`

	// AgreementTolerance is the maximum distance between a reviewer's
	// score and the mean of the other reviewers' scores on the same
	// response that still counts as agreement (default: 0.2).
	AgreementTolerance float64 `json:"agreement_tolerance"`
}

// DefaultCalibration returns the default ranking calibration.
//
// Elo update: rating' = rating + K * (outcome - expected), with
// expected = 1 / (1 + 10^((opponent - rating) / 400)). K = 32 keeps
// ratings responsive without letting a single cycle swing them wildly.
//
// Reviewer agreement uses a +/- 0.2 window on the [0, 1] score scale:
// wide enough to absorb honest disagreement on subjective prompts,
// narrow enough to penalize contrarian scoring.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Weighting:          *leaderboard.DefaultWeighting(),
		EloK:               32,
		AgreementTolerance: 0.2,
	}
}

// LoadCalibration loads ranking calibration from a JSON file.
// If the file doesn't exist or can't be read, returns the default
// calibration with an error. Partial configurations are merged with
// defaults for graceful degradation.
func LoadCalibration(filePath string) (*Calibration, error) {
	// Return defaults if no file path provided
	if filePath == "" {
		return DefaultCalibration(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var loaded Calibration
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	// Merge loaded values with defaults to handle partial configurations
	defaults := DefaultCalibration()
	merged := MergeCalibration(defaults, &loaded)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges an override calibration with a base calibration.
// Only non-zero values from the override are applied, so the calibration
// file may set just the parameters it cares about. EloCarryover defaults
// to false, so setting it true in the override always takes effect.
func MergeCalibration(base *Calibration, override *Calibration) *Calibration {
	// Guard against nil base to avoid panics; fall back to defaults.
	if base == nil {
		return DefaultCalibration()
	}

	// If there is no override provided, return a copy of the base.
	if override == nil {
		result := *base
		return &result
	}

	result := *base // Copy base

	if override.Version != "" {
		result.Version = override.Version
	}
	if override.Weighting.PromptAgeWeighting != "" {
		result.Weighting.PromptAgeWeighting = override.Weighting.PromptAgeWeighting
	}
	if override.Weighting.ResponseDelayWeighting != "" {
		result.Weighting.ResponseDelayWeighting = override.Weighting.ResponseDelayWeighting
	}
	if override.Weighting.UserWeightMultiplier != 0 {
		result.Weighting.UserWeightMultiplier = override.Weighting.UserWeightMultiplier
	}
	if override.Weighting.MinCoverage != 0 {
		result.Weighting.MinCoverage = override.Weighting.MinCoverage
	}
	if override.EloK != 0 {
		result.EloK = override.EloK
	}
	if override.EloCarryover {
		result.EloCarryover = true
	}
	if override.AgreementTolerance != 0 {
		result.AgreementTolerance = override.AgreementTolerance
	}

	return &result
}

// logCalibrationOverrides logs which parameters were overridden from defaults.
func logCalibrationOverrides(defaults *Calibration, loaded *Calibration) {
	var overrides []string

	if loaded.Weighting.PromptAgeWeighting != defaults.Weighting.PromptAgeWeighting {
		overrides = append(overrides, fmt.Sprintf("weighting.prompt_age: %s -> %s",
			defaults.Weighting.PromptAgeWeighting, loaded.Weighting.PromptAgeWeighting))
	}
	if loaded.Weighting.ResponseDelayWeighting != defaults.Weighting.ResponseDelayWeighting {
		overrides = append(overrides, fmt.Sprintf("weighting.response_delay: %s -> %s",
			defaults.Weighting.ResponseDelayWeighting, loaded.Weighting.ResponseDelayWeighting))
	}
	if loaded.Weighting.UserWeightMultiplier != defaults.Weighting.UserWeightMultiplier {
		overrides = append(overrides, fmt.Sprintf("weighting.user_multiplier: %.2f -> %.2f",
			defaults.Weighting.UserWeightMultiplier, loaded.Weighting.UserWeightMultiplier))
	}
	if loaded.Weighting.MinCoverage != defaults.Weighting.MinCoverage {
		overrides = append(overrides, fmt.Sprintf("weighting.min_coverage: %.1f -> %.1f",
			defaults.Weighting.MinCoverage, loaded.Weighting.MinCoverage))
	}
	if loaded.EloK != defaults.EloK {
		overrides = append(overrides, fmt.Sprintf("elo_k: %.0f -> %.0f",
			defaults.EloK, loaded.EloK))
	}
	if loaded.EloCarryover != defaults.EloCarryover {
		overrides = append(overrides, fmt.Sprintf("elo_carryover: %t -> %t",
			defaults.EloCarryover, loaded.EloCarryover))
	}
	if loaded.AgreementTolerance != defaults.AgreementTolerance {
		overrides = append(overrides, fmt.Sprintf("agreement_tolerance: %.2f -> %.2f",
			defaults.AgreementTolerance, loaded.AgreementTolerance))
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
