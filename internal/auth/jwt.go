// Package auth issues and verifies the bearer tokens guarding the API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"subgate/internal/support"
)

const (
	secretEnv       = "JWT_SECRET"
	issuer          = "subgate"
	DefaultTokenTTL = 30 * 24 * time.Hour
)

var (
	ErrMissingSecret = errors.New("auth: JWT_SECRET is not set")
	ErrInvalidToken  = errors.New("auth: invalid token")
)

var (
	secretMu       sync.RWMutex
	secretOverride []byte
)

// SetSecret replaces the signing secret read from JWT_SECRET. An empty secret
// restores the environment lookup.
func SetSecret(secret string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret == "" {
		secretOverride = nil
		return
	}
	secretOverride = []byte(secret)
}

func signingSecret() ([]byte, error) {
	secretMu.RLock()
	override := secretOverride
	secretMu.RUnlock()
	if len(override) > 0 {
		return override, nil
	}

	secret := strings.TrimSpace(support.GetEnv(secretEnv, ""))
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return []byte(secret), nil
}

// IssueToken signs an HS256 token for subject. A non-positive ttl uses
// DefaultTokenTTL.
func IssueToken(subject string, ttl time.Duration) (string, error) {
	secret, err := signingSecret()
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
func ValidateToken(raw string) (*jwt.RegisteredClaims, error) {
	secret, err := signingSecret()
	if err != nil {
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
