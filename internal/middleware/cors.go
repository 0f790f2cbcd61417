package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds the configuration for cross-origin request handling.
// An empty AllowedOrigins list disables CORS entirely; wildcard origins
// are not supported.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // preflight cache duration in seconds
}

// corsPolicy is the precomputed form of a CORSConfig: the origin allowlist
// as a set and the header values joined once at construction.
type corsPolicy struct {
	origins     map[string]struct{}
	methods     string
	headers     string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		credentials: cfg.AllowCredentials,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			p.origins[origin] = struct{}{}
		}
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		}
	}
	p.methods = strings.Join(methods, ", ")

	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"}
	}
	p.headers = strings.Join(headers, ", ")

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	_, ok := p.origins[origin]
	return ok
}

// CORS returns a middleware enforcing the origin allowlist. Cross-origin
// requests from unlisted origins are rejected with 403; preflight OPTIONS
// requests from allowed origins are answered without reaching the handler.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(policy.origins) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// Same-origin request.
				next.ServeHTTP(w, r)
				return
			}

			// Responses differ per origin, so caches must key on it.
			w.Header().Add("Vary", "Origin")

			if !policy.allows(origin) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if policy.credentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", policy.methods)
			w.Header().Set("Access-Control-Allow-Headers", policy.headers)

			if r.Method == http.MethodOptions {
				if policy.maxAge != "" {
					w.Header().Set("Access-Control-Max-Age", policy.maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
