package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit for one method and path. A Path ending in "/" matches
// every path under it.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // Requests per Window; 0 means unlimited
	Window time.Duration
	Burst  int // Bucket capacity; defaults to Limit
}

// LoadConfig reads the RATE_LIMIT_* environment variables. Malformed values are
// reported instead of falling back to defaults.
func LoadConfig() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Enabled:         env.getBool("RATE_LIMIT_ENABLED", true),
		DefaultLimit:    env.getInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   env.getDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		IdleTimeout:     env.getDuration("RATE_LIMIT_IDLE_TIMEOUT", time.Hour),
		Allowlist:       env.getAddresses("RATE_LIMIT_ALLOWLIST"),
		Denylist:        env.getAddresses("RATE_LIMIT_DENYLIST"),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("invalid rate limit configuration: %w", err)
	}
	return cfg, nil
}

// DefaultEndpointConfigs returns the per-endpoint limits. Every route that starts a
// pipeline run shares the strictest tier.
func DefaultEndpointConfigs() []EndpointConfig {
	runTier := func(path string) EndpointConfig {
		return EndpointConfig{Path: path, Method: "POST", Limit: 10, Window: time.Hour, Burst: 2}
	}
	return []EndpointConfig{
		runTier("/analyze"),
		runTier("/api/runs"),
		runTier("/api/runs/stream"),
		{Path: "/files/", Method: "GET", Limit: 600, Window: time.Minute, Burst: 100},
	}
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (e *envReader) getBool(key string, fallback bool) bool {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return value
}

func (e *envReader) getInt(key string, fallback int) int {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err == nil && value < 1 {
		err = errors.New("must be positive")
	}
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return value
}

func (e *envReader) getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err == nil && value <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return value
}

// getAddresses parses a comma-separated list of IP addresses.
func (e *envReader) getAddresses(key string) map[string]bool {
	result := make(map[string]bool)
	raw, ok := e.lookup(key)
	if !ok {
		return result
	}
	for _, part := range strings.Split(raw, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		ip := net.ParseIP(addr)
		if ip == nil {
			e.fail(key, addr, errors.New("not an IP address"))
			continue
		}
		result[ip.String()] = true
	}
	return result
}
