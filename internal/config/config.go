// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Config represents the configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or come from CLI flags.
type Config struct {
	// Paths
	WorkDir string `json:"work_dir,omitempty"` // Root of the analysis working directory
	Python  string `json:"python,omitempty"`   // Interpreter used for agent-authored python blocks
	Agents  string `json:"agents,omitempty"`   // YAML agent definitions replacing the built-in ones

	// Model
	Provider       string  `json:"provider,omitempty" validate:"omitempty,oneof=gemini anthropic"`
	Model          string  `json:"model,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"` // 0 is a valid setting
	TimeoutSeconds int     `json:"timeout_seconds,omitempty" validate:"gte=0"` // Per-request LLM timeout
	MaxTokens      int     `json:"max_tokens,omitempty" validate:"gte=0"`
	LLMRetries     int     `json:"llm_retries,omitempty" validate:"gte=0,lte=10"`

	// Conversation
	MaxAutoReplies     int `json:"max_auto_replies,omitempty" validate:"gte=0,lte=50"`
	CodeTimeoutSeconds int `json:"code_timeout_seconds,omitempty" validate:"gte=0"`

	// Behavior
	StrictHandoff *bool  `json:"strict_handoff,omitempty"` // Stop when a stage leaves no artifact
	Verbose       bool   `json:"verbose,omitempty"`
	DatabaseURL   string `json:"database_url,omitempty"` // PostgreSQL URL for run history (optional)

	// Server
	Port      int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	JWTSecret string `json:"jwt_secret,omitempty"` // Enables bearer auth on /api routes when set
}

// Defaults returns the values used for anything a config file or flag leaves unset.
func Defaults() Config {
	strict := true
	temperature := 0.3
	return Config{
		WorkDir:            "analysis",
		Python:             "python3",
		Provider:           "gemini",
		Model:              "gemini-2.0-flash-exp",
		Temperature:        &temperature,
		TimeoutSeconds:     120,
		MaxTokens:          4096,
		MaxAutoReplies:     6,
		CodeTimeoutSeconds: 120,
		StrictHandoff:      &strict,
		Port:               8501,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Required fields are not checked here since they may still come from flags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.WorkDir == "" {
		result.WorkDir = defaults.WorkDir
	}
	if result.Python == "" {
		result.Python = defaults.Python
	}
	if result.Provider == "" {
		result.Provider = defaults.Provider
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.JWTSecret == "" {
		result.JWTSecret = defaults.JWTSecret
	}

	if result.Temperature == nil {
		result.Temperature = defaults.Temperature
	}
	if result.TimeoutSeconds == 0 {
		result.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if result.MaxTokens == 0 {
		result.MaxTokens = defaults.MaxTokens
	}
	if result.LLMRetries == 0 {
		result.LLMRetries = defaults.LLMRetries
	}
	if result.MaxAutoReplies == 0 {
		result.MaxAutoReplies = defaults.MaxAutoReplies
	}
	if result.CodeTimeoutSeconds == 0 {
		result.CodeTimeoutSeconds = defaults.CodeTimeoutSeconds
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	if result.StrictHandoff == nil {
		result.StrictHandoff = defaults.StrictHandoff
	}

	// Other bools cannot distinguish unset from false, so CLI flags always win for them.

	return result
}

// ModelTemperature returns the configured sampling temperature, or the default when unset.
func (c *Config) ModelTemperature() float64 {
	if c.Temperature == nil {
		return *Defaults().Temperature
	}
	return *c.Temperature
}

// Strict reports whether stage handoffs must be verified. Unset means true.
func (c *Config) Strict() bool {
	return c.StrictHandoff == nil || *c.StrictHandoff
}
