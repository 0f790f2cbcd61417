package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/promptarena/promptarena/internal/auth"
	"github.com/promptarena/promptarena/internal/middleware"
)

// AuthHandlers holds dependencies for token HTTP handlers.
//
// Initial credentials are issued by the account system, which shares the
// signing secret; this service only exchanges refresh tokens for fresh
// access tokens.
type AuthHandlers struct {
	jwtService *auth.JWTService
}

// NewAuthHandlers creates a new AuthHandlers instance.
func NewAuthHandlers(jwtService *auth.JWTService) *AuthHandlers {
	return &AuthHandlers{jwtService: jwtService}
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Token handles POST /auth/token - exchanges a valid refresh token for a
// new access token and a rotated refresh token.
func (h *AuthHandlers) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "refresh_token is required")
		return
	}

	claims, err := h.jwtService.ValidateToken(req.RefreshToken)
	if err != nil {
		slog.DebugContext(r.Context(), "refresh token rejected", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or expired refresh token")
		return
	}
	if claims.Type != auth.TokenTypeRefresh {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Token is not a refresh token")
		return
	}

	accessToken, err := h.jwtService.GenerateAccessToken(claims.Subject, claims.Superuser)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate access token", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue token")
		return
	}
	refreshToken, err := h.jwtService.GenerateRefreshToken(claims.Subject)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate refresh token", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(auth.AccessTokenExpiry.Seconds()),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode token response", "error", err)
	}
}
