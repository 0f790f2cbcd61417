package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type loggedRequest struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ErrorCode string `json:"error_code"`
}

func captureLog(t *testing.T) (*bytes.Buffer, *slog.Logger) {
	t.Helper()
	buf := &bytes.Buffer{}
	return buf, slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) loggedRequest {
	t.Helper()
	var entry loggedRequest
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_RequestFields(t *testing.T) {
	buf, logger := captureLog(t)

	body := `{"entries":[]}`
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/leaderboard", nil))

	entry := parseLogEntry(t, buf)
	if entry.Method != "GET" {
		t.Errorf("expected method GET, got %s", entry.Method)
	}
	if entry.Path != "/leaderboard" {
		t.Errorf("expected path /leaderboard, got %s", entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.LatencyMS < 0 {
		t.Errorf("expected latency_ms >= 0, got %d", entry.LatencyMS)
	}
	if entry.Size != len(body) {
		t.Errorf("expected size %d, got %d", len(body), entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
}

// Log level follows response class: 2xx INFO, 4xx WARN, 5xx ERROR, with
// the handler's error code attached for the non-2xx cases.
func TestLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errorCode string
		wantLevel string
	}{
		{"success", http.StatusOK, "", "INFO"},
		{"client error", http.StatusBadRequest, "validation_error", "WARN"},
		{"server error", http.StatusInternalServerError, "internal_error", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, logger := captureLog(t)

			handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.errorCode != "" {
					*r = *r.WithContext(SetErrorCode(r.Context(), tt.errorCode))
				}
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/prompts", nil))

			entry := parseLogEntry(t, buf)
			if entry.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, entry.Status)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, entry.Level)
			}
			if entry.ErrorCode != tt.errorCode {
				t.Errorf("expected error_code %q, got %q", tt.errorCode, entry.ErrorCode)
			}
		})
	}
}

func TestLogging_ContextPropagation(t *testing.T) {
	buf, logger := captureLog(t)

	handler := RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetUserID(r.Context(), "user-7f3e9a21")
		ctx = SetErrorCode(ctx, "forbidden")
		*r = *r.WithContext(ctx)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	})))

	req := httptest.NewRequest(http.MethodDelete, "/prompt-sets/123", nil)
	req.Header.Set(RequestIDHeader, "req-id-789")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, buf)
	if entry.Method != "DELETE" {
		t.Errorf("expected method DELETE, got %s", entry.Method)
	}
	if entry.Path != "/prompt-sets/123" {
		t.Errorf("expected path /prompt-sets/123, got %s", entry.Path)
	}
	if entry.RequestID != "req-id-789" {
		t.Errorf("expected request_id req-id-789, got %s", entry.RequestID)
	}
	if entry.UserID != "user-7f3e9a21" {
		t.Errorf("expected user_id user-7f3e9a21, got %s", entry.UserID)
	}
	if entry.ErrorCode != "forbidden" {
		t.Errorf("expected error_code forbidden, got %s", entry.ErrorCode)
	}
	if want := len(`{"error":"forbidden"}`); entry.Size != want {
		t.Errorf("expected size %d, got %d", want, entry.Size)
	}
}

func TestLogging_ImplicitStatusIs200(t *testing.T) {
	buf, logger := captureLog(t)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if entry := parseLogEntry(t, buf); entry.Status != 200 {
		t.Errorf("expected implicit status 200, got %d", entry.Status)
	}
}

func TestLogging_NoErrorCodeFor2xx(t *testing.T) {
	buf, logger := captureLog(t)

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*r = *r.WithContext(SetErrorCode(r.Context(), "leftover_code"))
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/leaderboard", nil))

	if strings.Contains(buf.String(), "error_code") {
		t.Error("error_code should not be logged for 2xx responses")
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		if NewLogger(env) == nil {
			t.Errorf("NewLogger(%q) returned nil", env)
		}
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()
	if userID := GetUserID(ctx); userID != "" {
		t.Errorf("expected empty user ID, got %q", userID)
	}
	ctx = SetUserID(ctx, "user-42aa19c3")
	if userID := GetUserID(ctx); userID != "user-42aa19c3" {
		t.Errorf("expected user-42aa19c3, got %q", userID)
	}
}

func TestErrorCodeContext(t *testing.T) {
	ctx := context.Background()
	if code := GetErrorCode(ctx); code != "" {
		t.Errorf("expected empty error code, got %q", code)
	}
	ctx = SetErrorCode(ctx, "not_found")
	if code := GetErrorCode(ctx); code != "not_found" {
		t.Errorf("expected not_found, got %q", code)
	}
}

func TestLoggingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("expected status code 201, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected underlying writer status 201, got %d", rec.Code)
	}

	data := []byte(`{"id":"prompt-1"}`)
	n, err := rw.Write(data)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected to write %d bytes, wrote %d", len(data), n)
	}
	if rw.size != len(data) {
		t.Errorf("expected size %d, got %d", len(data), rw.size)
	}
}
