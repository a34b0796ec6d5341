package service

import (
	"fmt"
	"time"

	"github.com/evetabi/contract/internal/config"
	"github.com/evetabi/contract/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // "access" or "refresh"
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService verifies the access tokens issued by the account service.
// Sessions are owned elsewhere; this engine only resolves a bearer token to
// a user id and role. IssueAccessToken exists for service accounts (the
// watcher) and tests.
type AuthService struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates an AuthService from the JWT config section.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		secret: []byte(cfg.JWT.AccessSecret),
		ttl:    cfg.JWT.AccessTTL,
	}
}

// IssueAccessToken signs an access token for userID with the given role.
func (s *AuthService) IssueAccessToken(userID uuid.UUID, role domain.UserRole) (string, error) {
	now := time.Now().UTC()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role:      string(role),
		TokenType: "access",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth_service.IssueAccessToken: %w", err)
	}
	return tok, nil
}

// ParseAccessToken validates the token signature, algorithm and expiry.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
