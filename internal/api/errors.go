// Package api provides the HTTP handlers and shared response plumbing
// for the ranking service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promptarena/promptarena/internal/middleware"
)

// Error codes surfaced in the JSON error envelope. Clients match on
// these; status codes alone are not enough to distinguish, say, a bad
// cursor from a bad weighting parameter.
const (
	ErrCodeValidation    = "validation_error"
	ErrCodeAuthFailed    = "auth_failed"
	ErrCodeNotFound      = "not_found"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternal      = "internal_error"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeInvalidStatus = "invalid_status"
	ErrCodeInvalidCursor = "invalid_cursor"

	// ErrCodeNoComputation means no ranking computation has completed
	// yet, so there is no snapshot to serve.
	ErrCodeNoComputation = "no_computation"
)

// ErrorResponse is the envelope every API error uses:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the standard JSON error envelope with the given
// status. Pass a context that has been through middleware.SetErrorCode
// so the logging middleware records the code on 4xx/5xx responses:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "prompt not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

var errorStatus = map[string]int{
	ErrCodeValidation:    http.StatusBadRequest,
	ErrCodeAuthFailed:    http.StatusUnauthorized,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeRateLimited:   http.StatusTooManyRequests,
	ErrCodeForbidden:     http.StatusForbidden,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeInvalidStatus: http.StatusBadRequest,
	ErrCodeInvalidCursor: http.StatusBadRequest,
	ErrCodeNoComputation: http.StatusNotFound,
	ErrCodeInternal:      http.StatusInternalServerError,
}

// StatusCodeMapping returns the HTTP status conventionally paired with
// an error code. Unknown codes map to 500.
func StatusCodeMapping(code string) int {
	if status, ok := errorStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
