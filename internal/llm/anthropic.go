package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jonathan/auto-analyzer/internal/metrics"
)

// AnthropicClient implements Client using the Anthropic API.
type AnthropicClient struct {
	client   anthropic.Client
	settings Settings
}

// NewAnthropicClient creates a new Anthropic-based client.
func NewAnthropicClient(settings Settings, apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if settings.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive for %s", ProviderAnthropic)
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		settings: settings,
	}, nil
}

// Chat sends the history to Claude and returns the response text.
func (c *AnthropicClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	if err := checkHistory(history); err != nil {
		return "", err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.settings.Model),
		MaxTokens:   int64(c.settings.MaxTokens),
		Messages:    toAnthropicMessages(history),
		Temperature: anthropic.Float(c.settings.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var reply string
	err := withRetry(ctx, c.settings.Retries, func(ctx context.Context) error {
		reqCtx, cancel := withTimeout(ctx, c.settings.Timeout)
		defer cancel()

		start := time.Now()
		msg, err := c.client.Messages.New(reqCtx, params)
		if err != nil {
			metrics.LLMRequests.WithLabelValues(string(ProviderAnthropic), "error").Inc()
			slog.Debug("anthropic request failed", "model", c.settings.Model, "duration", time.Since(start), "error", err)
			return fmt.Errorf("anthropic API error: %w", err)
		}
		metrics.LLMRequests.WithLabelValues(string(ProviderAnthropic), "ok").Inc()
		slog.Debug("anthropic request completed", "model", c.settings.Model, "duration", time.Since(start), "stopReason", msg.StopReason)

		var parts []string
		for _, block := range msg.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) == 0 {
			return fmt.Errorf("no text content in response")
		}
		reply = strings.Join(parts, "")
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Close is a no-op; the HTTP client needs no explicit shutdown.
func (c *AnthropicClient) Close() error {
	return nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return params
}
