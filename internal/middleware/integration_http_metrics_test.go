package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMetrics_ComposesWithOtherMiddleware(t *testing.T) {
	m, reg := metricsFixture(t)

	handlerRan := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		_, _ = w.Write([]byte("ok"))
	})
	withHeader := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Outer", "set")
			next.ServeHTTP(w, r)
		})
	}

	handler := withHeader(HTTPMetrics(m)(inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))

	if !handlerRan {
		t.Error("inner handler was not called")
	}
	if rec.Header().Get("X-Outer") != "set" {
		t.Error("outer middleware did not run")
	}
	if gatherFamily(t, reg, MetricHTTPRequestsTotal) == nil {
		t.Error("request counter was not recorded")
	}
}

// Per-resource IDs must collapse to a single path label, otherwise label
// cardinality grows with every prompt in the system.
func TestHTTPMetrics_BoundedPathCardinality(t *testing.T) {
	m, reg := metricsFixture(t)

	handler := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	paths := []string{
		"/prompts/123",
		"/prompts/456",
		"/prompts/abc-def-ghi",
		"/prompts/550e8400-e29b-41d4-a716-446655440000",
	}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want 200", path, rec.Code)
		}
	}

	family := gatherFamily(t, reg, MetricHTTPRequestsTotal)
	if family == nil {
		t.Fatal("request counter not found")
	}
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected 1 label set after normalization, got %d", len(family.GetMetric()))
	}

	metric := family.GetMetric()[0]
	for _, label := range metric.GetLabel() {
		if label.GetName() == "path" && label.GetValue() != "/prompts/{id}" {
			t.Errorf("path label = %s, want /prompts/{id}", label.GetValue())
		}
	}
	if got := metric.GetCounter().GetValue(); got != float64(len(paths)) {
		t.Errorf("counter value = %f, want %d", got, len(paths))
	}
}
