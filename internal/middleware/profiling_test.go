package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func profilingFixture(cfg ProfilingConfig) http.Handler {
	return Profiling(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("app"))
	}))
}

func TestProfiling_Disabled(t *testing.T) {
	wrapped := profilingFixture(ProfilingConfig{Enabled: false, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "app" {
		t.Errorf("expected request to fall through to the app, got %q", rec.Body.String())
	}
}

func TestProfiling_RefusedInProduction(t *testing.T) {
	for _, env := range []string{"production", "prod"} {
		t.Run(env, func(t *testing.T) {
			wrapped := profilingFixture(ProfilingConfig{Enabled: true, Environment: env})

			req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Body.String() != "app" {
				t.Errorf("env %s: pprof must not be served in production", env)
			}
		})
	}
}

func TestProfiling_ServesIndexInDevelopment(t *testing.T) {
	wrapped := profilingFixture(ProfilingConfig{Enabled: true, Environment: "development"})

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pprof") {
		t.Error("expected the pprof index page")
	}
}

func TestProfiling_NamedProfiles(t *testing.T) {
	wrapped := profilingFixture(ProfilingConfig{Enabled: true, Environment: "development"})

	// heap and goroutine route through the Index handler; cmdline has a
	// dedicated handler.
	for _, path := range []string{"/debug/pprof/heap", "/debug/pprof/goroutine", "/debug/pprof/cmdline"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200 for %s, got %d", path, rec.Code)
			}
			if rec.Body.String() == "app" {
				t.Errorf("%s fell through to the app handler", path)
			}
		})
	}
}

func TestProfiling_NonProfilingPathsPassThrough(t *testing.T) {
	wrapped := profilingFixture(ProfilingConfig{Enabled: true, Environment: "development"})

	for _, path := range []string{"/leaderboard", "/prompts", "/rankings/current"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Body.String() != "app" {
			t.Errorf("expected %s to reach the app handler", path)
		}
	}
}
