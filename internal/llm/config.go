// Package llm provides model settings and chat client abstractions over the
// supported providers.
package llm

import "time"

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderAnthropic is the Anthropic/Claude provider
	ProviderAnthropic Provider = "anthropic"
)

// Settings holds the model configuration attached to an agent.
type Settings struct {
	Provider    Provider
	Model       string
	Temperature float64
	Timeout     time.Duration // Per-request timeout
	MaxTokens   int
	Retries     int // Extra attempts on provider errors; 0 disables retrying
}

// DefaultSettings returns the default configuration (currently Gemini)
func DefaultSettings() Settings {
	return DefaultGeminiSettings()
}

// DefaultGeminiSettings returns the default Gemini configuration
func DefaultGeminiSettings() Settings {
	return Settings{
		Provider:    ProviderGemini,
		Model:       "gemini-2.0-flash-exp",
		Temperature: 0.3,
		Timeout:     120 * time.Second,
		MaxTokens:   4096,
	}
}

// DefaultAnthropicSettings returns the default Anthropic configuration
func DefaultAnthropicSettings() Settings {
	return Settings{
		Provider:    ProviderAnthropic,
		Model:       "claude-sonnet-4-5",
		Temperature: 0.3,
		Timeout:     120 * time.Second,
		MaxTokens:   4096,
	}
}

// WithModel returns a copy of the settings using a different model
func (s Settings) WithModel(model string) Settings {
	s.Model = model
	return s
}
