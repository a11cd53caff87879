package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	assert.Equal(t, ProviderGemini, settings.Provider)
	assert.Equal(t, "gemini-2.0-flash-exp", settings.Model)
	assert.Equal(t, 0.3, settings.Temperature)
	assert.Equal(t, 120*time.Second, settings.Timeout)
	assert.Zero(t, settings.Retries)
}

func TestDefaultAnthropicSettings(t *testing.T) {
	settings := DefaultAnthropicSettings()

	assert.Equal(t, ProviderAnthropic, settings.Provider)
	assert.NotEmpty(t, settings.Model)
}

func TestWithModel(t *testing.T) {
	settings := DefaultSettings()
	custom := settings.WithModel("custom-model")

	// Original should be unchanged
	assert.Equal(t, "gemini-2.0-flash-exp", settings.Model)
	assert.Equal(t, "custom-model", custom.Model)
	assert.Equal(t, settings.Temperature, custom.Temperature)
}

func TestProviderConstants(t *testing.T) {
	assert.Equal(t, Provider("gemini"), ProviderGemini)
	assert.Equal(t, Provider("anthropic"), ProviderAnthropic)
}
