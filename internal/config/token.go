package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultTokenTTL is how long an issued API token stays valid unless JWT_TTL says otherwise.
const DefaultTokenTTL = 24 * time.Hour

const minTokenSecret = 8

// ErrNoTokenSecret means neither the config nor JWT_SECRET provided a signing secret.
var ErrNoTokenSecret = errors.New("JWT_SECRET is not set")

// TokenConfig holds the signing settings for API bearer tokens.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
}

// LoadTokenConfig resolves the token settings. A non-empty secret argument wins over
// JWT_SECRET. JWT_TTL takes a Go duration such as "12h".
func LoadTokenConfig(secret string) (*TokenConfig, error) {
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		return nil, ErrNoTokenSecret
	}
	if len(secret) < minTokenSecret {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", minTokenSecret)
	}

	ttl := DefaultTokenTTL
	if raw := os.Getenv("JWT_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_TTL %q: %w", raw, err)
		}
		if parsed < time.Minute {
			return nil, fmt.Errorf("JWT_TTL must be at least 1m, got %s", parsed)
		}
		ttl = parsed
	}

	return &TokenConfig{Secret: secret, TTL: ttl}, nil
}
