package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/middleware"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/promptset"
	"github.com/promptarena/promptarena/internal/validate"
)

// PromptSetHandlers holds dependencies for prompt set HTTP handlers.
type PromptSetHandlers struct {
	sets  promptset.Repository
	query *prompt.QueryService
}

// NewPromptSetHandlers creates a new PromptSetHandlers instance.
func NewPromptSetHandlers(sets promptset.Repository, query *prompt.QueryService) *PromptSetHandlers {
	return &PromptSetHandlers{sets: sets, query: query}
}

// promptSetRequest is the body for create and update operations.
type promptSetRequest struct {
	Title                   string `json:"title"`
	Visibility              string `json:"visibility"`
	AllowsPublicSubmissions bool   `json:"allows_public_submissions"`
}

// Collection handles /prompt-sets: POST creates, GET lists visible sets.
func (h *PromptSetHandlers) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

func (h *PromptSetHandlers) create(w http.ResponseWriter, r *http.Request) {
	caller := Caller(r.Context())
	if caller.Anonymous() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required to create a prompt set")
		return
	}

	var req promptSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	title, err := validate.PromptSetName(req.Title)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid title: "+err.Error())
		return
	}
	visibility, err := parseVisibility(req.Visibility)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	set := &promptset.PromptSet{
		Title:                   title,
		Visibility:              visibility,
		AllowsPublicSubmissions: req.AllowsPublicSubmissions,
		OwnerID:                 caller.UserID,
	}
	if err := h.sets.Create(r.Context(), set); err != nil {
		if errors.Is(err, promptset.ErrPublicSubmissionsRequirePublic) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Public submissions require a public prompt set")
			return
		}
		slog.ErrorContext(r.Context(), "failed to create prompt set", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create prompt set")
		return
	}

	slog.InfoContext(r.Context(), "prompt set created", "prompt_set_id", set.ID, "owner_id", caller.UserID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(set); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt set response", "error", err)
	}
}

// visibleSetEntry is one row in the prompt set listing: the set plus the
// caller's resolved role on it.
type visibleSetEntry struct {
	promptset.PromptSet
	Role access.Role `json:"role"`
}

func (h *PromptSetHandlers) list(w http.ResponseWriter, r *http.Request) {
	caller := Caller(r.Context())
	visible, err := h.sets.ListVisible(r.Context(), caller)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list prompt sets", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list prompt sets")
		return
	}

	entries := make([]visibleSetEntry, 0, len(visible))
	for _, vs := range visible {
		entries = append(entries, visibleSetEntry{PromptSet: vs.Set, Role: vs.Role})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{"prompt_sets": entries}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt set list", "error", err)
	}
}

// Item handles /prompt-sets/{id}: GET retrieves, PATCH updates,
// DELETE soft-deletes. /prompt-sets/{id}/prompts lists the set's prompts.
func (h *PromptSetHandlers) Item(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/prompt-sets/"), "/", 2)
	id := parts[0]
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Prompt set ID is required")
		return
	}
	if len(parts) == 2 && parts[1] == "prompts" {
		h.listPrompts(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPatch:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// resolve loads a set and the caller's role, collapsing invisibility into
// not-found so callers cannot probe for private sets.
func (h *PromptSetHandlers) resolve(w http.ResponseWriter, r *http.Request, id string) (*promptset.PromptSet, access.Role, bool) {
	caller := Caller(r.Context())

	set, err := h.sets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, promptset.ErrPromptSetNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Prompt set not found")
			return nil, access.RoleNone, false
		}
		slog.ErrorContext(r.Context(), "failed to retrieve prompt set", "error", err, "prompt_set_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve prompt set")
		return nil, access.RoleNone, false
	}

	role, err := h.sets.RoleOf(r.Context(), caller.UserID, id)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve role", "error", err, "prompt_set_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve prompt set")
		return nil, access.RoleNone, false
	}

	if access.Decide(caller, set.Target(role), access.ActionView) != access.Permit {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Prompt set not found")
		return nil, access.RoleNone, false
	}
	return set, role, true
}

func (h *PromptSetHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	set, role, ok := h.resolve(w, r, id)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(visibleSetEntry{PromptSet: *set, Role: role}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt set response", "error", err)
	}
}

func (h *PromptSetHandlers) update(w http.ResponseWriter, r *http.Request, id string) {
	set, role, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	caller := Caller(r.Context())
	if !access.CanManage(caller, set.Target(role)) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only owners and admins may update a prompt set")
		return
	}

	var req promptSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	if req.Title != "" {
		title, err := validate.PromptSetName(req.Title)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid title: "+err.Error())
			return
		}
		set.Title = title
	}
	if req.Visibility != "" {
		visibility, err := parseVisibility(req.Visibility)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		set.Visibility = visibility
	}
	set.AllowsPublicSubmissions = req.AllowsPublicSubmissions

	if err := h.sets.Update(r.Context(), set); err != nil {
		if errors.Is(err, promptset.ErrPublicSubmissionsRequirePublic) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Public submissions require a public prompt set")
			return
		}
		slog.ErrorContext(r.Context(), "failed to update prompt set", "error", err, "prompt_set_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update prompt set")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(visibleSetEntry{PromptSet: *set, Role: role}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode prompt set response", "error", err)
	}
}

func (h *PromptSetHandlers) delete(w http.ResponseWriter, r *http.Request, id string) {
	set, role, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	caller := Caller(r.Context())
	if role != access.RoleOwner && !caller.Superuser {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only the owner may delete a prompt set")
		return
	}

	if err := h.sets.Delete(r.Context(), set.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to delete prompt set", "error", err, "prompt_set_id", id)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete prompt set")
		return
	}

	slog.InfoContext(r.Context(), "prompt set deleted", "prompt_set_id", id, "user_id", caller.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// listPrompts handles GET /prompt-sets/{id}/prompts: the prompt listing
// scoped to one set, honoring the same filters as GET /prompts.
func (h *PromptSetHandlers) listPrompts(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	if _, _, ok := h.resolve(w, r, id); !ok {
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
	q.Filters.PromptSetID = &id

	caller := Caller(r.Context())
	res, err := h.query.GetPrompts(r.Context(), caller, q)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list set prompts", "error", err, "prompt_set_id", id)
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

func parseVisibility(v string) (access.Visibility, error) {
	switch vis := access.Visibility(v); vis {
	case access.VisibilityPublic, access.VisibilityPrivate:
		return vis, nil
	}
	return "", errors.New("visibility must be public or private")
}
