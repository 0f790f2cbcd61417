package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/prompt"
	"github.com/promptarena/promptarena/internal/promptset"
)

// promptFixture seeds one public prompt set owned by alice with three
// prompts: p1 included+revealed, p2 draft, p3 excluded.
type promptFixture struct {
	handlers *PromptHandlers
	prompts  *prompt.InMemoryRepository
	sets     *promptset.InMemoryRepository
}

func newPromptFixture(t *testing.T) *promptFixture {
	t.Helper()

	sets := promptset.NewInMemoryRepository()
	prompts := prompt.NewInMemoryRepository()
	ctx := context.Background()

	if err := sets.Create(ctx, &promptset.PromptSet{
		ID:         "set-1",
		Title:      "General Reasoning",
		Visibility: access.VisibilityPublic,
		OwnerID:    "alice",
	}); err != nil {
		t.Fatalf("seed prompt set: %v", err)
	}
	if err := sets.SetRole(ctx, "carol", "set-1", access.RoleCollaborator); err != nil {
		t.Fatalf("seed collaborator: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		id       string
		question string
		revealed bool
		status   access.AssignmentStatus
	}{
		{"p1", "What is the capital of France?", true, access.StatusIncluded},
		{"p2", "Summarize the plot of Hamlet.", false, access.StatusDraft},
		{"p3", "Count the vowels in this sentence.", true, access.StatusExcluded},
	}
	for i, s := range seed {
		if _, err := prompts.CreatePrompt(ctx, &prompt.Prompt{
			ID:         s.id,
			Question:   s.question,
			SHA256:     prompt.HashContent(s.question),
			UploaderID: "alice",
			IsRevealed: s.revealed,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("seed prompt %s: %v", s.id, err)
		}
		if _, err := prompts.UpsertAssignment(ctx, &prompt.Assignment{
			PromptID:    s.id,
			PromptSetID: "set-1",
			Status:      s.status,
		}); err != nil {
			t.Fatalf("seed assignment %s: %v", s.id, err)
		}
	}

	query := prompt.NewQueryService(prompts, sets, nil)
	assign := prompt.NewAssignmentService(prompts, sets, query, nil)
	return &promptFixture{
		handlers: NewPromptHandlers(query, assign),
		prompts:  prompts,
		sets:     sets,
	}
}

// doRequest runs one request through a handler with the given caller.
func doRequest(handler http.HandlerFunc, caller access.Identity, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(WithCaller(req.Context(), caller))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestListPrompts_AnonymousSeesPublicSet(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.ListPrompts, access.Identity{}, http.MethodGet, "/prompts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp promptListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// p3 is excluded: invisible to non-managers. p1 and p2 remain.
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
	for _, e := range resp.Prompts {
		if e.ID == "p3" {
			t.Error("excluded prompt p3 should not be visible to anonymous callers")
		}
	}
}

func TestListPrompts_StatusFilter(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.ListPrompts, access.Identity{UserID: "alice"}, http.MethodGet, "/prompts?statuses=included", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp promptListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("expected total 1, got %d", resp.Total)
	}
	if resp.Prompts[0].ID != "p1" {
		t.Errorf("expected p1, got %s", resp.Prompts[0].ID)
	}
}

func TestListPrompts_OwnerSeesExcluded(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.ListPrompts, access.Identity{UserID: "alice"}, http.MethodGet, "/prompts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp promptListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected owner to see all 3 prompts, got %d", resp.Total)
	}
}

func TestListPrompts_CursorPagination(t *testing.T) {
	f := newPromptFixture(t)
	caller := access.Identity{UserID: "alice"}

	w := doRequest(f.handlers.ListPrompts, caller, http.MethodGet, "/prompts?order_by=createdAt&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var first promptListResponse
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("failed to decode first page: %v", err)
	}
	if len(first.Prompts) != 2 {
		t.Fatalf("expected 2 prompts on first page, got %d", len(first.Prompts))
	}
	if first.NextCursor == "" {
		t.Fatal("expected a next_cursor on the first page")
	}

	w = doRequest(f.handlers.ListPrompts, caller, http.MethodGet, "/prompts?order_by=createdAt&limit=2&cursor="+first.NextCursor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for second page, got %d: %s", w.Code, w.Body.String())
	}
	var second promptListResponse
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatalf("failed to decode second page: %v", err)
	}
	if len(second.Prompts) != 1 {
		t.Fatalf("expected 1 prompt on second page, got %d", len(second.Prompts))
	}
	if second.NextCursor != "" {
		t.Errorf("expected no next_cursor on the last page, got %q", second.NextCursor)
	}

	seen := map[string]bool{}
	for _, e := range append(first.Prompts, second.Prompts...) {
		if seen[e.ID] {
			t.Errorf("prompt %s appeared on both pages", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestListPrompts_InvalidCursor(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.ListPrompts, access.Identity{}, http.MethodGet, "/prompts?cursor=%21%21%21not-a-cursor", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeInvalidCursor {
		t.Errorf("expected error code %q, got %q", ErrCodeInvalidCursor, code)
	}
}

func TestListPrompts_InvalidOrderBy(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.ListPrompts, access.Identity{}, http.MethodGet, "/prompts?order_by=alphabetical", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeValidation {
		t.Errorf("expected error code %q, got %q", ErrCodeValidation, code)
	}
}

func TestGetPrompt_ReturnsEnrichedPrompt(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.GetPrompt, access.Identity{}, http.MethodGet, "/prompts/p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var e prompt.EnrichedPrompt
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if e.ID != "p1" {
		t.Errorf("expected prompt p1, got %s", e.ID)
	}
	if e.Question == "" {
		t.Error("revealed prompt should include its question")
	}
}

func TestGetPrompt_HidesUnrevealedContent(t *testing.T) {
	f := newPromptFixture(t)

	// bob has no standing on the set; p2 is unrevealed.
	w := doRequest(f.handlers.GetPrompt, access.Identity{UserID: "bob"}, http.MethodGet, "/prompts/p2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var e prompt.EnrichedPrompt
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if e.Question != "" {
		t.Errorf("unrevealed prompt content should be withheld, got %q", e.Question)
	}
	if e.SHA256 == "" {
		t.Error("content hash should still identify the prompt")
	}
}

func TestGetPrompt_NotFound(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.GetPrompt, access.Identity{}, http.MethodGet, "/prompts/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeNotFound {
		t.Errorf("expected error code %q, got %q", ErrCodeNotFound, code)
	}
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		caller     access.Identity
		promptID   string
		status     string
		wantStatus int
		wantCode   string // error code, empty for success
	}{
		{
			name:       "owner excludes included prompt",
			caller:     access.Identity{UserID: "alice"},
			promptID:   "p1",
			status:     "excluded",
			wantStatus: http.StatusOK,
		},
		{
			name:       "collaborator promotes draft",
			caller:     access.Identity{UserID: "carol"},
			promptID:   "p2",
			status:     "included",
			wantStatus: http.StatusOK,
		},
		{
			name:       "collaborator cannot exclude",
			caller:     access.Identity{UserID: "carol"},
			promptID:   "p1",
			status:     "excluded",
			wantStatus: http.StatusForbidden,
			wantCode:   ErrCodeForbidden,
		},
		{
			name:       "idempotent no-op",
			caller:     access.Identity{UserID: "alice"},
			promptID:   "p1",
			status:     "included",
			wantStatus: http.StatusOK,
		},
		{
			name:       "draft cannot jump to excluded",
			caller:     access.Identity{UserID: "alice"},
			promptID:   "p2",
			status:     "excluded",
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeConflict,
		},
		{
			name:       "unknown status",
			caller:     access.Identity{UserID: "alice"},
			promptID:   "p1",
			status:     "archived",
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeInvalidStatus,
		},
		{
			name:       "missing prompt",
			caller:     access.Identity{UserID: "alice"},
			promptID:   "missing",
			status:     "included",
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPromptFixture(t)

			body, _ := json.Marshal(updateStatusRequest{PromptSetID: "set-1", Status: tt.status})
			w := doRequest(f.handlers.UpdateStatus, tt.caller, http.MethodPatch, "/prompts/"+tt.promptID+"/status", body)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" {
				if code := decodeErrorCode(t, w); code != tt.wantCode {
					t.Errorf("expected error code %q, got %q", tt.wantCode, code)
				}
			}
		})
	}
}

func TestUpdateStatus_MissingPromptSetID(t *testing.T) {
	f := newPromptFixture(t)

	body := []byte(`{"status": "included"}`)
	w := doRequest(f.handlers.UpdateStatus, access.Identity{UserID: "alice"}, http.MethodPatch, "/prompts/p1/status", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeValidation {
		t.Errorf("expected error code %q, got %q", ErrCodeValidation, code)
	}
}

func TestBulkInclude(t *testing.T) {
	f := newPromptFixture(t)
	ctx := context.Background()

	// A second public set holding prompts to pull from. p1 is already
	// included in set-1; p4 only lives in set-2.
	if err := f.sets.Create(ctx, &promptset.PromptSet{
		ID:         "set-2",
		Title:      "Source Pool",
		Visibility: access.VisibilityPublic,
		OwnerID:    "alice",
	}); err != nil {
		t.Fatalf("seed prompt set: %v", err)
	}
	if _, err := f.prompts.CreatePrompt(ctx, &prompt.Prompt{
		ID:         "p4",
		Question:   "Translate this sentence into French.",
		SHA256:     prompt.HashContent("Translate this sentence into French."),
		UploaderID: "alice",
		IsRevealed: true,
	}); err != nil {
		t.Fatalf("seed prompt: %v", err)
	}
	for _, id := range []string{"p1", "p4"} {
		if _, err := f.prompts.UpsertAssignment(ctx, &prompt.Assignment{
			PromptID:    id,
			PromptSetID: "set-2",
			Status:      access.StatusIncluded,
		}); err != nil {
			t.Fatalf("seed assignment %s: %v", id, err)
		}
	}

	body := []byte(`{"prompt_set_id": "set-2", "statuses": ["included"]}`)
	w := doRequest(f.handlers.BulkInclude, access.Identity{UserID: "alice"}, http.MethodPost, "/prompt-sets/set-1/include", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var res prompt.BulkIncludeResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Matched != 2 {
		t.Errorf("expected 2 matched, got %d", res.Matched)
	}
	if res.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", res.Inserted)
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", res.Skipped)
	}
}

func TestBulkInclude_ForbiddenForNonManagers(t *testing.T) {
	f := newPromptFixture(t)

	body := []byte(`{"statuses": ["draft"]}`)
	w := doRequest(f.handlers.BulkInclude, access.Identity{UserID: "carol"}, http.MethodPost, "/prompt-sets/set-1/include", body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeForbidden {
		t.Errorf("expected error code %q, got %q", ErrCodeForbidden, code)
	}
}

func TestBulkInclude_UnknownSet(t *testing.T) {
	f := newPromptFixture(t)

	body := []byte(`{}`)
	w := doRequest(f.handlers.BulkInclude, access.Identity{UserID: "alice"}, http.MethodPost, "/prompt-sets/missing/include", body)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeNotFound {
		t.Errorf("expected error code %q, got %q", ErrCodeNotFound, code)
	}
}

func TestBulkInclude_InvalidBody(t *testing.T) {
	f := newPromptFixture(t)

	w := doRequest(f.handlers.BulkInclude, access.Identity{UserID: "alice"}, http.MethodPost, "/prompt-sets/set-1/include", []byte("{not json"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeBadRequest {
		t.Errorf("expected error code %q, got %q", ErrCodeBadRequest, code)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := pageCursor{Offset: 40, Seed: 12345}
	token := encodeCursor(c)
	if token == "" {
		t.Fatal("expected a non-empty cursor token")
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("cursor token should be URL-safe, got %q", token)
	}

	got, err := decodeCursor(token)
	if err != nil {
		t.Fatalf("failed to decode cursor: %v", err)
	}
	if got != c {
		t.Errorf("expected cursor %+v, got %+v", c, got)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWNib3I", ""} {
		if _, err := decodeCursor(token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}
