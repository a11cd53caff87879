package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/auto-analyzer/internal/metrics"
)

// GeminiClient talks to Google Gemini. The model is configured once from Settings;
// each Chat call copies it to attach its own system instruction.
type GeminiClient struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	settings Settings
}

// NewGeminiClient creates a Gemini client for settings.Model.
func NewGeminiClient(ctx context.Context, settings Settings, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(settings.Model)
	model.SetTemperature(float32(settings.Temperature))
	if settings.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(settings.MaxTokens))
	}

	return &GeminiClient{client: client, model: model, settings: settings}, nil
}

// Chat sends history to Gemini and returns the reply text. The last message is the
// new user turn; everything before it becomes session history.
func (c *GeminiClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	if err := checkHistory(history); err != nil {
		return "", err
	}

	model := *c.model
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	prior := toGeminiHistory(history[:len(history)-1])
	turn := genai.Text(history[len(history)-1].Content)

	var reply string
	err := withRetry(ctx, c.settings.Retries, func(ctx context.Context) error {
		reqCtx, cancel := withTimeout(ctx, c.settings.Timeout)
		defer cancel()

		// A session keeps failed turns in its history; start clean on every attempt.
		session := model.StartChat()
		session.History = append([]*genai.Content(nil), prior...)

		start := time.Now()
		resp, err := session.SendMessage(reqCtx, turn)
		if err != nil {
			metrics.LLMRequests.WithLabelValues(string(ProviderGemini), "error").Inc()
			slog.Debug("gemini request failed", "model", c.settings.Model, "duration", time.Since(start), "error", err)
			return fmt.Errorf("gemini request failed: %w", err)
		}
		metrics.LLMRequests.WithLabelValues(string(ProviderGemini), "ok").Inc()
		slog.Debug("gemini request completed", "model", c.settings.Model, "duration", time.Since(start))

		reply, err = geminiReplyText(resp)
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func toGeminiHistory(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, len(messages))
	for i, m := range messages {
		content := genai.NewUserContent(genai.Text(m.Content))
		if m.Role == RoleAssistant {
			content.Role = "model"
		}
		contents[i] = content
	}
	return contents
}

// geminiReplyText joins the text parts of the first candidate. A blocked prompt or an
// empty candidate is an error naming the reason Gemini gave.
func geminiReplyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("empty gemini response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("gemini blocked the prompt: %s", fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini reply has no text (finish reason %s)", candidate.FinishReason)
	}
	return sb.String(), nil
}
