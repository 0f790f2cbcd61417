package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/promptarena/promptarena/internal/idempotency"
)

// IdempotencyKeyHeader is the header carrying the client's replay key.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context, or "".
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// replayCapture tees the response into a buffer so successful responses
// can be stored for replay.
type replayCapture struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (rc *replayCapture) WriteHeader(code int) {
	if !rc.wroteHeader {
		rc.status = code
		rc.wroteHeader = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *replayCapture) Write(b []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(b)
	rc.body.Write(b[:n])
	return n, err
}

func writeIdempotencyError(w http.ResponseWriter, ctx context.Context, code, message string) {
	UpdateResponseContext(w, SetErrorCode(ctx, code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, `{"error":"`+code+`","message":"`+message+`"}`)
}

// IdempotencyMiddleware enforces replay protection on the configured
// routes: POST requests must carry an Idempotency-Key header, and a
// repeated key returns the stored response without re-running the
// operation. Routes are matched by normalized pattern, so dynamic routes
// register as e.g. "/prompt-sets/{id}/include".
func IdempotencyMiddleware(store idempotency.Store, routes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[normalizePath(r.URL.Path)] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			switch err := idempotency.ValidateKey(key); {
			case errors.Is(err, idempotency.ErrInvalidKey):
				writeIdempotencyError(w, r.Context(), "missing_idempotency_key",
					"Idempotency-Key header is required for this request")
				return
			case errors.Is(err, idempotency.ErrKeyTooLong):
				writeIdempotencyError(w, r.Context(), "idempotency_key_too_long",
					"Idempotency-Key exceeds maximum length of 64 characters")
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			prior, err := store.Lookup(key)
			switch {
			case err == nil:
				slog.InfoContext(ctx, "replaying stored response for idempotency key",
					"key", key,
					"status", prior.StatusCode,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(prior.StatusCode)
				io.WriteString(w, prior.Body)
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				// Store failure: serve the request without replay
				// protection rather than failing it.
				slog.ErrorContext(ctx, "failed to look up idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := &replayCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Only successful responses are worth replaying; a failed
			// request should be retried for real.
			if capture.status < 200 || capture.status >= 300 {
				return
			}

			body := capture.body.String()
			rec := &idempotency.Record{
				Key:        key,
				Method:     r.Method,
				Route:      r.URL.Path,
				StatusCode: capture.status,
				Body:       body,
				BodyHash:   idempotency.HashBody(body),
			}
			if err := store.Save(rec); err != nil {
				// The response is already sent; losing the replay record
				// only costs a repeat execution on retry.
				slog.ErrorContext(ctx, "failed to store replay record", "key", key, "error", err)
			}
		})
	}
}
