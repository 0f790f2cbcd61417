package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptarena/promptarena/internal/middleware"
)

// readyCheckTimeout bounds the whole readiness probe, not each
// dependency individually.
const readyCheckTimeout = 5 * time.Second

// HealthChecker probes a single external dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// dependencyProbe pairs a checker with the name it reports under in the
// readiness response.
type dependencyProbe struct {
	name    string
	checker HealthChecker
}

// HealthHandlers serves the liveness and readiness endpoints consumed
// by Kubernetes probes.
type HealthHandlers struct {
	probes         []dependencyProbe
	metricsEnabled bool
}

// HealthHandlersConfig configures the health check handlers. Nil
// checkers mean the dependency is not in use and reports ok.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		probes: []dependencyProbe{
			{name: "database", checker: config.DBChecker},
			{name: "redis", checker: config.RedisChecker},
		},
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse is the JSON body for both probe endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (h *HealthHandlers) writeProbeResponse(w http.ResponseWriter, status int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode probe response", "error", err)
	}
}

func rejectNonGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	return true
}

// Health handles GET /health. Liveness is trivial: if the process can
// answer, it is alive.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if rejectNonGet(w, r) {
		return
	}

	h.writeProbeResponse(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. It probes every configured dependency and
// returns 503 when any of them fails, so the pod is pulled from
// rotation instead of serving errors.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if rejectNonGet(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	healthy := true
	for _, probe := range h.probes {
		if probe.checker == nil {
			checks[probe.name] = "ok"
			continue
		}
		if err := probe.checker.HealthCheck(ctx); err != nil {
			checks[probe.name] = "error"
			healthy = false
			slog.WarnContext(ctx, "dependency health check failed",
				"dependency", probe.name, "error", err)
		} else {
			checks[probe.name] = "ok"
		}
	}

	// The Prometheus registry is initialized at startup and cannot fail
	// afterwards, so when enabled it is always ok.
	if h.metricsEnabled {
		checks["metrics"] = "ok"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	h.writeProbeResponse(w, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
