package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/promptarena/promptarena/internal/middleware"
	"github.com/promptarena/promptarena/internal/ranking"
)

// RankingHandlers holds dependencies for ranking snapshot HTTP handlers.
type RankingHandlers struct {
	reader *ranking.Reader
}

// NewRankingHandlers creates a new RankingHandlers instance.
func NewRankingHandlers(reader *ranking.Reader) *RankingHandlers {
	return &RankingHandlers{reader: reader}
}

// GetCurrent handles GET /rankings/current - metadata of the latest
// completed ranking computation.
func (h *RankingHandlers) GetCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	comp, err := h.reader.Current(r.Context())
	if err != nil {
		h.writeRankingError(w, r, err, "computation")
		return
	}
	writeRankingJSON(w, r, map[string]any{"computation": comp})
}

// GetReviewerTrust handles GET /rankings/reviewer-trust.
func (h *RankingHandlers) GetReviewerTrust(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "reviewer_trust", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentReviewerTrust(ctx)
		return comp, rows, err
	})
}

// GetPromptQuality handles GET /rankings/prompt-quality.
func (h *RankingHandlers) GetPromptQuality(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "prompt_quality", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentPromptQuality(ctx)
		return comp, rows, err
	})
}

// GetBenchmarkQuality handles GET /rankings/benchmark-quality.
func (h *RankingHandlers) GetBenchmarkQuality(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "benchmark_quality", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentBenchmarkQuality(ctx)
		return comp, rows, err
	})
}

// GetModelPerformance handles GET /rankings/model-performance.
func (h *RankingHandlers) GetModelPerformance(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "model_performance", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentModelPerformance(ctx)
		return comp, rows, err
	})
}

// GetModelElo handles GET /rankings/model-elo.
func (h *RankingHandlers) GetModelElo(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "model_elo", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentModelElo(ctx)
		return comp, rows, err
	})
}

// GetContributorScores handles GET /rankings/contributor-scores.
func (h *RankingHandlers) GetContributorScores(w http.ResponseWriter, r *http.Request) {
	writeRankingRows(h, w, r, "contributor_scores", func(ctx context.Context) (*ranking.Computation, any, error) {
		comp, rows, err := h.reader.CurrentContributorScores(ctx)
		return comp, rows, err
	})
}

// writeRankingRows runs one snapshot read and writes the standard envelope:
// the pinned computation metadata plus the category rows under rowsKey.
func writeRankingRows(h *RankingHandlers, w http.ResponseWriter, r *http.Request, rowsKey string, read func(context.Context) (*ranking.Computation, any, error)) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	comp, rows, err := read(r.Context())
	if err != nil {
		h.writeRankingError(w, r, err, rowsKey)
		return
	}
	writeRankingJSON(w, r, map[string]any{
		"computation": comp,
		rowsKey:       rows,
	})
}

func (h *RankingHandlers) writeRankingError(w http.ResponseWriter, r *http.Request, err error, category string) {
	if errors.Is(err, ranking.ErrNoComputation) {
		slog.DebugContext(r.Context(), "no ranking computation available", "category", category)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNoComputation)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNoComputation, "No ranking computation has completed yet")
		return
	}
	slog.ErrorContext(r.Context(), "failed to read ranking snapshot", "error", err, "category", category)
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read ranking snapshot")
}

func writeRankingJSON(w http.ResponseWriter, r *http.Request, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode ranking response", "error", err)
	}
}
