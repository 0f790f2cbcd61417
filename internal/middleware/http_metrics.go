package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticMetricRoutes are recorded under their literal path. Everything else
// goes through segment normalization so per-prompt and per-set IDs do not
// blow up label cardinality.
var staticMetricRoutes = map[string]struct{}{
	"/":                            {},
	"/prompts":                     {},
	"/prompt-sets":                 {},
	"/leaderboard":                 {},
	"/rankings/current":            {},
	"/rankings/reviewer-trust":     {},
	"/rankings/prompt-quality":     {},
	"/rankings/benchmark-quality":  {},
	"/rankings/model-performance":  {},
	"/rankings/model-elo":          {},
	"/rankings/contributor-scores": {},
	"/auth/token":                  {},
	"/experiment/status":           {},
	"/experiment/halt":             {},
	"/experiment/reset":            {},
	"/health":                      {},
	"/ready":                       {},
	"/metrics":                     {},
}

// normalizePath maps a concrete request path onto its route pattern, e.g.
// /prompts/550e8400 onto /prompts/{id}. Unknown paths pass through
// unchanged so a new route still shows up in metrics before it is added
// here.
func normalizePath(path string) string {
	if _, ok := staticMetricRoutes[path]; ok {
		return path
	}

	if id, tail, ok := splitAfterPrefix(path, "/prompts/"); ok && id != "" {
		switch tail {
		case "":
			return "/prompts/{id}"
		case "status":
			return "/prompts/{id}/status"
		}
	}
	if id, tail, ok := splitAfterPrefix(path, "/prompt-sets/"); ok && id != "" {
		switch tail {
		case "":
			return "/prompt-sets/{id}"
		case "include", "prompts":
			return "/prompt-sets/{id}/" + tail
		}
	}

	return path
}

// splitAfterPrefix peels prefix off the path and splits the remainder into
// the first segment and the rest.
func splitAfterPrefix(path, prefix string) (seg, tail string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	return rest, "", true
}

// metricsResponseWriter captures status code and bytes written. The status
// defaults to 200 for handlers that never call WriteHeader.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader records the first status code; later calls are ignored, same
// as net/http.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records request counts, durations, and request/response sizes
// per method, normalized path, and status. Liveness probes (/health,
// /ready) are not recorded; they would dominate the series without saying
// anything about traffic.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			var requestSize int64
			if cl := r.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
					requestSize = n
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
