package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/middleware"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/promptset"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// PromptHandlers holds dependencies for prompt HTTP handlers.
type PromptHandlers struct {
	query  *prompt.QueryService
	assign *prompt.AssignmentService
}

// NewPromptHandlers creates a new PromptHandlers instance.
func NewPromptHandlers(query *prompt.QueryService, assign *prompt.AssignmentService) *PromptHandlers {
	return &PromptHandlers{query: query, assign: assign}
}

// promptListResponse is the envelope for GET /prompts.
type promptListResponse struct {
	Prompts    []*prompt.EnrichedPrompt `json:"prompts"`
	Total      int                      `json:"total"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// ListPrompts handles GET /prompts - one page of prompts visible to the caller.
func (h *PromptHandlers) ListPrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		code := ErrCodeValidation
		if errors.Is(err, ErrInvalidCursor) {
			code = ErrCodeInvalidCursor
		}
		ctx := middleware.SetErrorCode(r.Context(), code)
		WriteError(w, ctx, http.StatusBadRequest, code, err.Error())
		return
	}

	caller := Caller(r.Context())
	res, err := h.query.GetPrompts(r.Context(), caller, q)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list prompts", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list prompts")
		return
	}

	resp := promptListResponse{Prompts: res.Prompts, Total: res.Total}
	if next := q.Offset + len(res.Prompts); len(res.Prompts) > 0 && next < res.Total {
		resp.NextCursor = encodeCursor(pageCursor{Offset: next, Seed: q.Seed})
	}
	if resp.Prompts == nil {
		resp.Prompts = []*prompt.EnrichedPrompt{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt list response", "error", err)
	}
}

// GetPrompt handles GET /prompts/{id} - a single enriched prompt.
func (h *PromptHandlers) GetPrompt(w http.ResponseWriter, r *http.Request) {
	id := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/prompts/"), "/", 2)[0]
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Prompt ID is required")
		return
	}

	caller := Caller(r.Context())
	e, err := h.query.GetPrompt(r.Context(), caller, id)
	if err != nil {
		if errors.Is(err, prompt.ErrPromptNotFound) {
			slog.DebugContext(r.Context(), "prompt not found", "prompt_id", id)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Prompt not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to retrieve prompt", "error", err, "prompt_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve prompt")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt response", "error", err)
	}
}

// updateStatusRequest is the body for PATCH /prompts/{id}/status.
type updateStatusRequest struct {
	PromptSetID string `json:"prompt_set_id"`
	Status      string `json:"status"`
}

// UpdateStatus handles PATCH /prompts/{id}/status - moves one assignment
// through the draft/included/excluded lifecycle.
func (h *PromptHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	promptID := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/prompts/"), "/", 2)[0]
	if promptID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Prompt ID is required")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if req.PromptSetID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "prompt_set_id is required")
		return
	}

	to := access.AssignmentStatus(req.Status)
	if !access.ValidStatus(to) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidStatus)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidStatus, "Status must be one of: draft, included, excluded")
		return
	}

	caller := Caller(r.Context())
	err := h.assign.UpdateStatus(r.Context(), caller, promptID, req.PromptSetID, to)
	if err != nil {
		h.writeAssignmentError(w, r, err, promptID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"prompt_id":     promptID,
		"prompt_set_id": req.PromptSetID,
		"status":        string(to),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode status response", "error", err)
	}
}

// BulkInclude handles POST /prompt-sets/{id}/include - includes every prompt
// matching the request filters into the set in one operation.
func (h *PromptHandlers) BulkInclude(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	promptSetID := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/prompt-sets/"), "/", 2)[0]
	if promptSetID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Prompt set ID is required")
		return
	}

	var body filterParams
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	f, err := body.toFilters()
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	caller := Caller(r.Context())
	res, err := h.assign.IncludePrompts(r.Context(), caller, promptSetID, f)
	if err != nil {
		h.writeAssignmentError(w, r, err, promptSetID)
		return
	}

	slog.InfoContext(r.Context(), "bulk include completed",
		"prompt_set_id", promptSetID,
		"matched", res.Matched,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"skipped", res.Skipped)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode bulk include response", "error", err)
	}
}

// writeAssignmentError maps assignment service errors onto the HTTP surface.
func (h *PromptHandlers) writeAssignmentError(w http.ResponseWriter, r *http.Request, err error, subject string) {
	switch {
	case errors.Is(err, prompt.ErrForbidden):
		slog.DebugContext(r.Context(), "assignment operation forbidden", "subject", subject)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Caller may not manage this prompt set")
	case errors.Is(err, prompt.ErrPromptNotFound),
		errors.Is(err, prompt.ErrAssignmentNotFound),
		errors.Is(err, promptset.ErrPromptSetNotFound):
		slog.DebugContext(r.Context(), "assignment target not found", "subject", subject, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	case errors.Is(err, prompt.ErrInvalidTransition):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Assignment status transition not allowed from current status")
	default:
		slog.ErrorContext(r.Context(), "assignment operation failed", "error", err, "subject", subject)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Operation failed")
	}
}

// filterParams is the JSON shape of prompt filters as accepted in request
// bodies (bulk include). Query-string parsing for GET /prompts lives in
// parseListQuery.
type filterParams struct {
	PromptSetID      *string  `json:"prompt_set_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	PromptType       *string  `json:"prompt_type,omitempty"`
	MinScoreCount    *int     `json:"min_score_count,omitempty"`
	MaxScoreCount    *int     `json:"max_score_count,omitempty"`
	MinAvgScore      *float64 `json:"min_avg_score,omitempty"`
	MaxAvgScore      *float64 `json:"max_avg_score,omitempty"`
	ScoredByModels   []string `json:"scored_by_models,omitempty"`
	ReviewedByCaller *bool    `json:"reviewed_by_caller,omitempty"`
	MaxAgeDays       *int     `json:"max_age_days,omitempty"`
	Statuses         []string `json:"statuses,omitempty"`
}

func (p filterParams) toFilters() (prompt.Filters, error) {
	f := prompt.Filters{
		PromptSetID:      p.PromptSetID,
		Tags:             p.Tags,
		PromptType:       p.PromptType,
		MinScoreCount:    p.MinScoreCount,
		MaxScoreCount:    p.MaxScoreCount,
		MinAvgScore:      p.MinAvgScore,
		MaxAvgScore:      p.MaxAvgScore,
		ScoredByModels:   p.ScoredByModels,
		ReviewedByCaller: p.ReviewedByCaller,
	}
	if p.MaxAgeDays != nil {
		if *p.MaxAgeDays <= 0 {
			return prompt.Filters{}, errors.New("max_age_days must be positive")
		}
		d := time.Duration(*p.MaxAgeDays) * 24 * time.Hour
		f.MaxAge = &d
	}
	for _, s := range p.Statuses {
		st := access.AssignmentStatus(s)
		if !access.ValidStatus(st) {
			return prompt.Filters{}, errors.New("statuses must be draft, included, or excluded")
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

// parseFilterParams builds filter parameters from query-string values.
// The parameter names mirror the JSON body fields accepted by bulk include.
func parseFilterParams(params url.Values) (filterParams, error) {
	var fp filterParams
	if v := params.Get("prompt_set_id"); v != "" {
		fp.PromptSetID = &v
	}
	if v := params.Get("tags"); v != "" {
		fp.Tags = splitCSV(v)
	}
	if v := params.Get("prompt_type"); v != "" {
		fp.PromptType = &v
	}
	if v := params.Get("scored_by_models"); v != "" {
		fp.ScoredByModels = splitCSV(v)
	}
	if v := params.Get("statuses"); v != "" {
		fp.Statuses = splitCSV(v)
	}

	var err error
	if fp.MinScoreCount, err = optionalInt(params.Get("min_score_count"), "min_score_count"); err != nil {
		return filterParams{}, err
	}
	if fp.MaxScoreCount, err = optionalInt(params.Get("max_score_count"), "max_score_count"); err != nil {
		return filterParams{}, err
	}
	if fp.MinAvgScore, err = optionalFloat(params.Get("min_avg_score"), "min_avg_score"); err != nil {
		return filterParams{}, err
	}
	if fp.MaxAvgScore, err = optionalFloat(params.Get("max_avg_score"), "max_avg_score"); err != nil {
		return filterParams{}, err
	}
	if fp.MaxAgeDays, err = optionalInt(params.Get("max_age_days"), "max_age_days"); err != nil {
		return filterParams{}, err
	}
	if v := params.Get("reviewed_by_caller"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return filterParams{}, errors.New("reviewed_by_caller must be a boolean")
		}
		fp.ReviewedByCaller = &b
	}
	return fp, nil
}

// parseListQuery builds a ListQuery from GET /prompts query parameters.
func parseListQuery(r *http.Request) (prompt.ListQuery, error) {
	params := r.URL.Query()
	q := prompt.ListQuery{Limit: defaultPageLimit}

	fp, err := parseFilterParams(params)
	if err != nil {
		return prompt.ListQuery{}, err
	}
	if q.Filters, err = fp.toFilters(); err != nil {
		return prompt.ListQuery{}, err
	}

	switch order := prompt.OrderKey(params.Get("order_by")); order {
	case "":
		q.OrderBy = prompt.OrderCreatedAt
	case prompt.OrderCreatedAt, prompt.OrderQuestion, prompt.OrderRandom, prompt.OrderFeedbackPriority:
		q.OrderBy = order
	default:
		return prompt.ListQuery{}, errors.New("order_by must be one of: createdAt, question, random, feedbackPriority")
	}

	if v := params.Get("limit"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 1 {
			return prompt.ListQuery{}, errors.New("limit must be a positive integer")
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		q.Limit = n
	}

	if token := params.Get("cursor"); token != "" {
		c, cerr := decodeCursor(token)
		if cerr != nil {
			return prompt.ListQuery{}, cerr
		}
		q.Offset = c.Offset
		q.Seed = c.Seed
	} else {
		if v := params.Get("offset"); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil || n < 0 {
				return prompt.ListQuery{}, errors.New("offset must be a non-negative integer")
			}
			q.Offset = n
		}
		// Pin a seed for shuffled orderings so the continuation cursor
		// pages through the same permutation.
		if q.OrderBy == prompt.OrderRandom || q.OrderBy == prompt.OrderFeedbackPriority {
			q.Seed = time.Now().UnixNano()
		}
	}

	return q, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optionalInt(v, name string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, errors.New(name + " must be an integer")
	}
	return &n, nil
}

func optionalFloat(v, name string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, errors.New(name + " must be a number")
	}
	return &f, nil
}
