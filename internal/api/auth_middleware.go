package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/promptarena/promptarena/internal/access"
	"github.com/promptarena/promptarena/internal/auth"
	"github.com/promptarena/promptarena/internal/middleware"
)

// callerKey is the context key for the resolved caller identity.
type callerKey struct{}

// WithCaller stores the caller identity in the context.
func WithCaller(ctx context.Context, id access.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// Caller retrieves the caller identity from context. Requests without a
// validated token resolve to the zero (anonymous) identity.
func Caller(ctx context.Context) access.Identity {
	if id, ok := ctx.Value(callerKey{}).(access.Identity); ok {
		return id
	}
	return access.Identity{}
}

// AuthMiddleware resolves the caller identity from a Bearer token.
//
// A missing Authorization header leaves the request anonymous: public
// queries work without a token, and handlers decide per operation what
// anonymous callers may do. An invalid or expired token is rejected
// outright so callers never run with silently degraded permissions.
func AuthMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), access.Identity{})))
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token == "" {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
				WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authorization header must be a Bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
				WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired token")
				return
			}

			id := claims.Identity()
			ctx := WithCaller(r.Context(), id)
			ctx = middleware.SetUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
