package llm

import (
	"context"
	"fmt"
)

// Role identifies the author of a chat message
type Role string

const (
	// RoleUser is the proxy side of a conversation (task messages and execution results)
	RoleUser Role = "user"
	// RoleAssistant is the model side of a conversation
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat history
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client is an abstraction over LLM providers
type Client interface {
	// Chat returns the assistant's next reply given a system instruction and the
	// history so far. The last history message must come from the user.
	Chat(ctx context.Context, system string, history []Message) (string, error)
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on settings
func NewClient(ctx context.Context, settings Settings, apiKey string) (Client, error) {
	switch settings.Provider {
	case ProviderAnthropic:
		client, err := NewAnthropicClient(settings, apiKey)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderGemini, "":
		client, err := NewGeminiClient(ctx, settings, apiKey)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", settings.Provider)
	}
}

// checkHistory verifies the history ends with a non-empty user turn.
func checkHistory(history []Message) error {
	if len(history) == 0 {
		return fmt.Errorf("chat history is empty")
	}
	last := history[len(history)-1]
	if last.Role != RoleUser {
		return fmt.Errorf("last message must come from %s, got %s", RoleUser, last.Role)
	}
	if last.Content == "" {
		return fmt.Errorf("last message is empty")
	}
	return nil
}
