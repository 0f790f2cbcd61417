package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promptarena/promptarena/internal/middleware"
)

func decodeErrorBody(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to parse error body: %v, body: %s", err, body)
	}
	return resp
}

func TestWriteError_Envelope(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
	}{
		{"prompt not found", http.StatusNotFound, ErrCodeNotFound, "prompt not found"},
		{"bad weighting param", http.StatusBadRequest, ErrCodeValidation, "unknown prompt_age_weighting value"},
		{"stale cursor", http.StatusBadRequest, ErrCodeInvalidCursor, "cursor could not be decoded"},
		{"no snapshot yet", http.StatusNotFound, ErrCodeNoComputation, "no ranking computation has completed"},
		{"superuser required", http.StatusForbidden, ErrCodeForbidden, "superuser role required"},
		{"empty message", http.StatusInternalServerError, ErrCodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, context.Background(), tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
				t.Errorf("expected JSON content type, got %s", ct)
			}

			resp := decodeErrorBody(t, w.Body.Bytes())
			if resp.Error.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
			}
			if resp.Error.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, resp.Error.Message)
			}
		})
	}
}

// The envelope shape is part of the API contract: exactly one top-level
// "error" key holding exactly "code" and "message".
func TestWriteError_ExactJSONShape(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, context.Background(), http.StatusBadRequest, ErrCodeValidation, "score out of range")

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response) != 1 {
		t.Errorf("expected 1 top-level key, got %d: %v", len(response), response)
	}

	errorObj, ok := response["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' to be an object, got %T", response["error"])
	}
	if len(errorObj) != 2 {
		t.Errorf("expected 2 fields in error object, got %d: %v", len(errorObj), errorObj)
	}
	if code, _ := errorObj["code"].(string); code != ErrCodeValidation {
		t.Errorf("expected code %s, got %v", ErrCodeValidation, errorObj["code"])
	}
	if msg, _ := errorObj["message"].(string); msg != "score out of range" {
		t.Errorf("expected message 'score out of range', got %v", errorObj["message"])
	}
}

func TestWriteError_MessageEscaping(t *testing.T) {
	w := httptest.NewRecorder()
	msg := `weighting "decay" rejected: value <0 & >1 not allowed`
	WriteError(w, context.Background(), http.StatusBadRequest, ErrCodeValidation, msg)

	resp := decodeErrorBody(t, w.Body.Bytes())
	if resp.Error.Message != msg {
		t.Errorf("message not preserved through JSON: got %q", resp.Error.Message)
	}
}

func TestWriteError_LoggedWithErrorCode(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "prompt set not found")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/prompt-sets/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	resp := decodeErrorBody(t, w.Body.Bytes())
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, resp.Error.Code)
	}

	var entry struct {
		Level     string `json:"level"`
		Status    int    `json:"status"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	if entry.Status != http.StatusNotFound {
		t.Errorf("expected logged status 404, got %d", entry.Status)
	}
	if entry.Level != "WARN" {
		t.Errorf("expected log level WARN for 4xx, got %s", entry.Level)
	}
	if entry.ErrorCode != ErrCodeNotFound {
		t.Errorf("expected error_code %s in logs, got %s", ErrCodeNotFound, entry.ErrorCode)
	}
}

func TestWriteError_RequestIDInLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := middleware.RequestID(
		middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "invalid token")
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/prompt-sets", nil)
	req.Header.Set("X-Request-ID", "req-ranking-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	var entry struct {
		RequestID string `json:"request_id"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry.RequestID != "req-ranking-123" {
		t.Errorf("expected request_id req-ranking-123 in logs, got %s", entry.RequestID)
	}
	if entry.ErrorCode != ErrCodeAuthFailed {
		t.Errorf("expected error_code %s in logs, got %s", ErrCodeAuthFailed, entry.ErrorCode)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeAuthFailed, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeInvalidStatus, http.StatusBadRequest},
		{ErrCodeInvalidCursor, http.StatusBadRequest},
		{ErrCodeNoComputation, http.StatusNotFound},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"unknown_code", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := StatusCodeMapping(tt.code); got != tt.wantStatus {
				t.Errorf("StatusCodeMapping(%s) = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}
