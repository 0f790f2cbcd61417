package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig configures the pprof middleware. Profiling exposes
// runtime internals (including heap contents) and must stay off outside
// development; Enabled is ignored when Environment is production.
type ProfilingConfig struct {
	Enabled     bool
	Environment string
}

func isProductionEnv(env string) bool {
	return env == "production" || env == "prod"
}

// Profiling serves the net/http/pprof endpoints under /debug/pprof/ when
// enabled. All other requests pass through untouched.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if isProductionEnv(config.Environment) {
			slog.Error("refusing to enable profiling in production",
				"environment", config.Environment,
			)
			return next
		}

		slog.Warn("pprof endpoints enabled",
			"environment", config.Environment,
			"endpoints", "/debug/pprof/*",
		)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}

			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index also serves the named profiles (heap, goroutine, ...).
				pprof.Index(w, r)
			}
		})
	}
}
