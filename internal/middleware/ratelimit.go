package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines a fixed-window rate limit.
type RateLimitConfig struct {
	// RequestsPerWindow is the maximum number of requests allowed per
	// window. Must be > 0.
	RequestsPerWindow int
	// WindowDuration is the length of the window. Must be > 0.
	WindowDuration time.Duration
}

// Validate rejects non-positive limits and windows.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// DefaultGlobalLimit is the baseline limit applied to all API traffic.
func DefaultGlobalLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// DefaultAuthLimit is the stricter limit for token endpoints, which are
// a credential-stuffing target.
func DefaultAuthLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// DefaultLeaderboardLimit bounds the leaderboard and ranking read
// endpoints, whose uncached path recomputes weighted scores.
func DefaultLeaderboardLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 30, WindowDuration: time.Minute}
}

// RateLimitStore tracks request counts per key. Implementations exist
// for in-memory state and Redis.
type RateLimitStore interface {
	// Allow reports whether a request for key fits in the current
	// window, the requests remaining, and seconds until reset when
	// blocked.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

// countWindow is one key's tally in its current fixed window.
type countWindow struct {
	hits    int
	resetAt time.Time
}

func (cw *countWindow) expired(now time.Time) bool {
	return now.After(cw.resetAt)
}

// InMemoryRateLimitStore is a fixed-window counter held in process
// memory. Suitable for single-instance deployments; multi-instance
// deployments should use the Redis store so limits are shared.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*countWindow
}

func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{windows: make(map[string]*countWindow)}
}

func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cw := s.windows[key]
	if cw == nil || cw.expired(now) {
		cw = &countWindow{resetAt: now.Add(config.WindowDuration)}
		s.windows[key] = cw
	}

	if cw.hits >= config.RequestsPerWindow {
		retryAfter := int(time.Until(cw.resetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, 0, retryAfter
	}

	cw.hits++
	return true, config.RequestsPerWindow - cw.hits, 0
}

// Cleanup drops expired windows. Call periodically; an interval of a
// few times the longest configured window keeps memory bounded without
// noticeable overhead.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, cw := range s.windows {
		if cw.expired(now) {
			delete(s.windows, key)
		}
	}
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// clientIP resolves the original client address, honoring the
// X-Forwarded-For and X-Real-IP headers set by the ingress proxy. The
// first X-Forwarded-For hop is the client; later entries are proxies.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	// RemoteAddr might not carry a port.
	return r.RemoteAddr
}

// IPKeyFunc keys on the client IP.
func IPKeyFunc() KeyFunc {
	return clientIP
}

// UserKeyFunc keys on the authenticated user when present, falling back
// to the client IP for anonymous traffic.
func UserKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if userID := GetUserID(r.Context()); userID != "" {
			return "user:" + userID
		}
		return "ip:" + clientIP(r)
	}
}

// RateLimiter rejects requests over the limit with 429 and the standard
// X-RateLimit-* headers.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, retryAfter := store.Allow(r.Context(), keyFunc(r), config)

			header := w.Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			// Mutate the request in place so the logging middleware,
			// which holds the same pointer, sees the error code.
			*r = *r.WithContext(SetErrorCode(r.Context(), "rate_limit_exceeded"))

			header.Set("Retry-After", strconv.Itoa(retryAfter))
			reset := time.Now().Add(time.Duration(retryAfter) * time.Second)
			header.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		})
	}
}
