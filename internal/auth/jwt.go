// Package auth issues and validates the JWT tokens that identify API
// callers.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/promptarena/promptarena/internal/access"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token expiration durations.
const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// DefaultLeeway absorbs clock skew between the issuing and validating
// hosts.
const DefaultLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptyUserID  = errors.New("userID cannot be empty")
)

// Claims are the JWT claims carried by both token types.
type Claims struct {
	jwt.RegisteredClaims
	Superuser bool   `json:"su,omitempty"` // Platform admin bypassing per-set roles
	Type      string `json:"typ"`          // Token type: "access" or "refresh"
}

// Identity converts the claims into the caller identity used by access
// decisions.
func (c *Claims) Identity() access.Identity {
	return access.Identity{
		UserID:    c.Subject,
		Superuser: c.Superuser,
	}
}

// JWTService signs and validates tokens. Tokens are always signed with
// the current secret; validation additionally accepts a previous secret
// so secret rotation does not invalidate tokens in flight.
type JWTService struct {
	secrets [][]byte // current first, previous (if any) second
	leeway  time.Duration
}

// Option customizes a JWTService.
type Option func(*JWTService)

// WithLeeway overrides the clock-skew allowance used during validation.
func WithLeeway(leeway time.Duration) Option {
	return func(s *JWTService) {
		s.leeway = leeway
	}
}

// WithPreviousSecret accepts tokens signed with an older secret during
// a rotation window. An empty string means no rotation is in progress.
func WithPreviousSecret(secret string) Option {
	return func(s *JWTService) {
		if secret != "" {
			s.secrets = append(s.secrets, []byte(secret))
		}
	}
}

// NewJWTService creates a service signing with the given secret.
func NewJWTService(secret string, opts ...Option) *JWTService {
	svc := &JWTService{
		secrets: [][]byte{[]byte(secret)},
		leeway:  DefaultLeeway,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *JWTService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secrets[0])
}

// GenerateAccessToken creates a short-lived access token for a user.
func (s *JWTService) GenerateAccessToken(userID string, superuser bool) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	return s.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Superuser: superuser,
		Type:      TokenTypeAccess,
	})
}

// GenerateRefreshToken creates a long-lived refresh token for a user.
// Refresh tokens never carry the superuser claim; it is re-derived when
// the access token is minted.
func (s *JWTService) GenerateRefreshToken(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	return s.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenExpiry)),
		},
		Type: TokenTypeRefresh,
	})
}

// ValidateToken parses and validates a token, trying each accepted
// secret in order. Only HS256 signatures are accepted.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	var lastErr error
	for _, secret := range s.secrets {
		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, ErrInvalidToken
			}
			return secret, nil
		}, jwt.WithLeeway(s.leeway))
		if err != nil {
			lastErr = err
			continue
		}
		if claims, ok := token.Claims.(*Claims); ok && token.Valid {
			return claims, nil
		}
		return nil, ErrInvalidToken
	}

	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}
