package server

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/server/middleware"
)

// Issuer and Audience are stamped on every API token and required on verification.
const (
	Issuer   = "auto-analyzer"
	Audience = "auto-analyzer-api"
)

// Tokens issues and verifies HS256 bearer tokens for the /api routes.
type Tokens struct {
	secret []byte
	cfg    *config.TokenConfig
	clock  clockwork.Clock
}

// NewTokens returns a token service. A nil clock means the real clock.
func NewTokens(cfg *config.TokenConfig, clock clockwork.Clock) *Tokens {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tokens{secret: []byte(cfg.Secret), cfg: cfg, clock: clock}
}

// Issue signs a token naming subject as the caller.
func (t *Tokens) Issue(subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject is empty")
	}
	now := t.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and lifetime. Failures wrap the jwt
// package's sentinel errors.
func (t *Tokens) Verify(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ValidateToken satisfies middleware.TokenValidator.
func (t *Tokens) ValidateToken(raw string) (middleware.SubjectGetter, error) {
	return t.Verify(raw)
}
