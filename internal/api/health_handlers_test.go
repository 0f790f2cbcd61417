package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubChecker struct {
	err error
}

func (s *stubChecker) HealthCheck(ctx context.Context) error {
	return s.err
}

func decodeProbeBody(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode probe response: %v", err)
	}
	return response
}

func TestHealth(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{MetricsEnabled: true})

	w := httptest.NewRecorder()
	handlers.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	response := decodeProbeBody(t, w)
	if response.Status != "healthy" {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Checks["runtime"] != "ok" {
		t.Errorf("expected runtime check ok, got %s", response.Checks["runtime"])
	}
	if _, err := time.Parse(time.RFC3339, response.Timestamp); err != nil {
		t.Errorf("timestamp is not valid RFC3339: %v", err)
	}
}

func TestReady_DependencyStates(t *testing.T) {
	dbDown := errors.New("connection refused")
	redisDown := errors.New("dial tcp: i/o timeout")

	tests := []struct {
		name       string
		dbErr      error
		redisErr   error
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok", "metrics": "ok"},
		},
		{
			name:       "database down",
			dbErr:      dbDown,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error", "redis": "ok"},
		},
		{
			name:       "redis down",
			redisErr:   redisDown,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "ok", "redis": "error"},
		},
		{
			name:       "everything down",
			dbErr:      dbDown,
			redisErr:   redisDown,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error", "redis": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHealthHandlers(HealthHandlersConfig{
				DBChecker:      &stubChecker{err: tt.dbErr},
				RedisChecker:   &stubChecker{err: tt.redisErr},
				MetricsEnabled: true,
			})

			w := httptest.NewRecorder()
			handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			response := decodeProbeBody(t, w)
			if response.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, response.Status)
			}
			for check, want := range tt.wantChecks {
				if got := response.Checks[check]; got != want {
					t.Errorf("expected %s check %s, got %s", check, want, got)
				}
			}
		})
	}
}

// A deployment with in-memory stores configures no checkers; it must
// still report ready.
func TestReady_NoCheckersConfigured(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{MetricsEnabled: true})

	w := httptest.NewRecorder()
	handlers.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	response := decodeProbeBody(t, w)
	if response.Status != "healthy" {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	for _, check := range []string{"database", "redis", "metrics"} {
		if response.Checks[check] != "ok" {
			t.Errorf("expected %s check ok, got %s", check, response.Checks[check])
		}
	}
}

func TestProbes_MethodNotAllowed(t *testing.T) {
	handlers := NewHealthHandlers(HealthHandlersConfig{})

	endpoints := map[string]http.HandlerFunc{
		"/health": handlers.Health,
		"/ready":  handlers.Ready,
	}
	for path, handler := range endpoints {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(http.MethodPost, path, nil))
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("POST %s: expected status 405, got %d", path, w.Code)
			}
		})
	}
}
