package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/promptarena/promptarena/internal/leaderboard"
	"github.com/promptarena/promptarena/internal/middleware"
)

// LeaderboardHandlers holds dependencies for leaderboard HTTP handlers.
type LeaderboardHandlers struct {
	service *leaderboard.Service

	// candidate, when set, is the weighting served to the candidate
	// scoring cohort during a calibration experiment. Baseline traffic
	// keeps the default weighting.
	candidate *leaderboard.WeightingConfig
}

// NewLeaderboardHandlers creates a new LeaderboardHandlers instance.
func NewLeaderboardHandlers(service *leaderboard.Service) *LeaderboardHandlers {
	return &LeaderboardHandlers{service: service}
}

// SetCandidateWeighting installs the weighting config served to the
// candidate cohort. Explicit query parameters still override it.
func (h *LeaderboardHandlers) SetCandidateWeighting(cfg *leaderboard.WeightingConfig) {
	h.candidate = cfg
}

// leaderboardDistribution summarizes the spread of weighted averages across
// the returned models, so clients can render context around each row.
type leaderboardDistribution struct {
	ModelCount int     `json:"model_count"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

// leaderboardResponse is the envelope for GET /leaderboard.
type leaderboardResponse struct {
	Entries      []leaderboard.Entry          `json:"entries"`
	Weighting    *leaderboard.WeightingConfig `json:"weighting"`
	Distribution *leaderboardDistribution     `json:"distribution,omitempty"`
}

// GetLeaderboard handles GET /leaderboard - the curated, weighted,
// per-model leaderboard over the caller's filtered prompt population.
func (h *LeaderboardHandlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	params := r.URL.Query()
	fp, err := parseFilterParams(params)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	filters, err := fp.toFilters()
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	base := leaderboard.DefaultWeighting()
	if h.candidate != nil && middleware.CohortFromContext(r.Context()) == middleware.CohortCandidate {
		candidate := *h.candidate
		base = &candidate
	}
	weighting, err := parseWeighting(params, base)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	caller := Caller(r.Context())
	entries, err := h.service.GetCuratedLeaderboard(r.Context(), caller, leaderboard.Request{
		Filters:   filters,
		Weighting: weighting,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to compute leaderboard", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to compute leaderboard")
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}

	resp := leaderboardResponse{
		Entries:      entries,
		Weighting:    weighting,
		Distribution: computeDistribution(entries),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode leaderboard response", "error", err)
	}
}

// parseWeighting builds a weighting config from query parameters, starting
// from the given base (defaults, or the candidate calibration for
// experiment traffic). Unknown decay modes are rejected rather than
// silently treated as "none".
func parseWeighting(params url.Values, cfg *leaderboard.WeightingConfig) (*leaderboard.WeightingConfig, error) {

	if v := params.Get("prompt_age_weighting"); v != "" {
		mode, err := parseDecayMode(v, "prompt_age_weighting")
		if err != nil {
			return nil, err
		}
		cfg.PromptAgeWeighting = mode
	}
	if v := params.Get("response_delay_weighting"); v != "" {
		mode, err := parseDecayMode(v, "response_delay_weighting")
		if err != nil {
			return nil, err
		}
		cfg.ResponseDelayWeighting = mode
	}
	if v := params.Get("user_weight_multiplier"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m < 0 {
			return nil, errors.New("user_weight_multiplier must be a non-negative number")
		}
		cfg.UserWeightMultiplier = m
	}
	if v := params.Get("min_coverage"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil || c < 0 || c > 100 {
			return nil, errors.New("min_coverage must be a percentage between 0 and 100")
		}
		cfg.MinCoverage = c
	}
	return cfg, nil
}

func parseDecayMode(v, name string) (leaderboard.DecayMode, error) {
	switch mode := leaderboard.DecayMode(v); mode {
	case leaderboard.DecayNone, leaderboard.DecayLinear, leaderboard.DecayExponential:
		return mode, nil
	}
	return "", errors.New(name + " must be one of: none, linear, exponential")
}

// computeDistribution summarizes weighted averages across entries. Returns
// nil for an empty leaderboard.
func computeDistribution(entries []leaderboard.Entry) *leaderboardDistribution {
	if len(entries) == 0 {
		return nil
	}

	d := &leaderboardDistribution{
		ModelCount: len(entries),
		Min:        entries[0].WeightedAvgScore,
		Max:        entries[0].WeightedAvgScore,
	}
	var sum float64
	for _, e := range entries {
		sum += e.WeightedAvgScore
		if e.WeightedAvgScore < d.Min {
			d.Min = e.WeightedAvgScore
		}
		if e.WeightedAvgScore > d.Max {
			d.Max = e.WeightedAvgScore
		}
	}
	d.Mean = sum / float64(len(entries))

	var variance float64
	for _, e := range entries {
		diff := e.WeightedAvgScore - d.Mean
		variance += diff * diff
	}
	d.StdDev = math.Sqrt(variance / float64(len(entries)))
	return d
}
