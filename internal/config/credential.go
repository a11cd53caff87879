package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrMissingCredential is returned when no API key for the model provider is configured.
var ErrMissingCredential = errors.New("missing model provider credential")

// credentialEnv lists the environment variables checked per provider, in order.
var credentialEnv = map[string][]string{
	"gemini":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
}

// LoadCredential reads the API key for provider from the environment.
// An explicit key (from a flag) takes priority.
func LoadCredential(provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}

	names, ok := credentialEnv[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}

	for _, name := range names {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, nil
		}
	}

	return "", fmt.Errorf("%w: set %s", ErrMissingCredential, strings.Join(names, " or "))
}
