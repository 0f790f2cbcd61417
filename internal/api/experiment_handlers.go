package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promptarena/promptarena/internal/middleware"
)

// ExperimentHandlers exposes operational endpoints for the scoring
// calibration experiment: status inspection, manual halt, and window
// reset. Halt and reset mutate live routing state and require superuser.
type ExperimentHandlers struct {
	router *middleware.ExperimentRouter
	logger *slog.Logger
}

// NewExperimentHandlers creates the experiment management handlers.
func NewExperimentHandlers(router *middleware.ExperimentRouter, logger *slog.Logger) *ExperimentHandlers {
	return &ExperimentHandlers{
		router: router,
		logger: logger,
	}
}

// GetStatus handles GET /experiment/status.
func (h *ExperimentHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.router.Status()); err != nil {
		h.logger.Error("failed to encode experiment status", "error", err)
	}
}

// Halt handles POST /experiment/halt. All traffic returns to the baseline
// calibration; the experiment stays halted until the process restarts with
// a new configuration.
func (h *ExperimentHandlers) Halt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	if !Caller(r.Context()).Superuser {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Superuser required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		req.Reason = "operator_request"
	}

	h.router.Halt(req.Reason)
	h.logger.Info("scoring experiment halted by operator", "reason", req.Reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"halted": true,
		"reason": req.Reason,
	}); err != nil {
		h.logger.Error("failed to encode halt response", "error", err)
	}
}

// ResetWindow handles POST /experiment/reset.
func (h *ExperimentHandlers) ResetWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	if !Caller(r.Context()).Superuser {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Superuser required")
		return
	}

	h.router.ResetWindow()
	h.logger.Info("scoring experiment window reset")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{"reset": true}); err != nil {
		h.logger.Error("failed to encode reset response", "error", err)
	}
}
