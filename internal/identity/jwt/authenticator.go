// Package jwt issues and verifies HS256 bearer tokens carrying {id, role}.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

// Config holds token signing settings. It is built once at startup.
type Config struct {
	SecretKey string
	// TokenTTL adds an exp claim when positive. Zero issues tokens that never expire.
	TokenTTL time.Duration
}

// Claims is the token payload.
type Claims struct {
	ID   int64       `json:"id"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies tokens with a single shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. The secret must not be empty.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("jwt: secret key is required")
	}
	return &Authenticator{
		secret: []byte(cfg.SecretKey),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}, nil
}

// IssueToken signs a token for user.
func (a *Authenticator) IssueToken(_ context.Context, user *domain.User) (string, error) {
	now := a.now()
	claims := Claims{
		ID:   user.ID,
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm and (when present) expiry, and
// returns the embedded identity. Every failure wraps identity.ErrInvalidToken.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (int64, domain.Role, error) {
	if tokenString == "" {
		return 0, "", identity.ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	if !token.Valid {
		return 0, "", identity.ErrInvalidToken
	}

	if claims.ID <= 0 || !claims.Role.Valid() {
		return 0, "", fmt.Errorf("%w: missing identity claims", identity.ErrInvalidToken)
	}

	return claims.ID, claims.Role, nil
}
