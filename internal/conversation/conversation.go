// Package conversation runs the bounded exchange between the user proxy and one
// assistant agent. The proxy sends a task, executes any code the assistant replies
// with, and feeds the execution result back until the assistant says TERMINATE or the
// proxy runs out of auto-replies.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/llm"
	"github.com/jonathan/auto-analyzer/internal/metrics"
	"github.com/jonathan/auto-analyzer/internal/prompts"
	"github.com/jonathan/auto-analyzer/internal/sandbox"
)

// TerminationKeyword ends a conversation when it appears anywhere in an assistant reply.
const TerminationKeyword = "TERMINATE"

// DefaultMaxAutoReplies is the proxy's auto-reply budget per conversation.
const DefaultMaxAutoReplies = 6

// Reason explains why a conversation stopped
type Reason string

const (
	// ReasonTerminated means the assistant replied with the termination keyword
	ReasonTerminated Reason = "terminated"
	// ReasonMaxAutoReplies means the proxy exhausted its auto-reply budget
	ReasonMaxAutoReplies Reason = "max_auto_replies"
)

// Transcript is the full record of one conversation.
type Transcript struct {
	Agent    string        `json:"agent"`
	Messages []llm.Message `json:"messages"`
	Reason   Reason        `json:"reason"`
	// Executions counts proxy replies that came from running code.
	Executions int `json:"executions"`
}

// Replies returns the number of assistant messages.
func (t *Transcript) Replies() int {
	n := 0
	for _, m := range t.Messages {
		if m.Role == llm.RoleAssistant {
			n++
		}
	}
	return n
}

// LastReply returns the final assistant message, or "" if there is none.
func (t *Transcript) LastReply() string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == llm.RoleAssistant {
			return t.Messages[i].Content
		}
	}
	return ""
}

// IsTermination reports whether a reply ends the conversation.
func IsTermination(reply string) bool {
	return strings.Contains(reply, TerminationKeyword)
}

// Executor runs the code blocks found in an assistant reply
type Executor interface {
	Run(ctx context.Context, blocks []sandbox.CodeBlock) sandbox.Result
}

// ClientFactory builds the LLM client an agent talks through.
type ClientFactory func(ctx context.Context, settings llm.Settings) (llm.Client, error)

// Options tunes a Runner.
type Options struct {
	MaxAutoReplies   int
	DefaultAutoReply string
	Logger           *slog.Logger
}

// Runner plays the user proxy side of each conversation.
type Runner struct {
	newClient        ClientFactory
	executor         Executor
	maxAutoReplies   int
	defaultAutoReply string
	logger           *slog.Logger
}

// NewRunner creates a Runner. Zero-valued options fall back to the defaults.
func NewRunner(newClient ClientFactory, executor Executor, opts Options) *Runner {
	r := &Runner{
		newClient:        newClient,
		executor:         executor,
		maxAutoReplies:   opts.MaxAutoReplies,
		defaultAutoReply: opts.DefaultAutoReply,
		logger:           opts.Logger,
	}
	if r.maxAutoReplies <= 0 {
		r.maxAutoReplies = DefaultMaxAutoReplies
	}
	if r.defaultAutoReply == "" {
		r.defaultAutoReply = prompts.MustRender(prompts.KeyDefaultAutoReply, nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Exchange sends task to the agent and runs the conversation to completion. On error
// the transcript so far is returned alongside it.
func (r *Runner) Exchange(ctx context.Context, agent agents.Definition, task string) (*Transcript, error) {
	client, err := r.newClient(ctx, agent.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", agent.Name, err)
	}
	defer client.Close()

	transcript := &Transcript{
		Agent:    agent.Name,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: task}},
	}
	log := r.logger.With("agent", agent.Name)
	autoReplies := 0

	for {
		if err := ctx.Err(); err != nil {
			return transcript, err
		}

		reply, err := client.Chat(ctx, agent.SystemMessage, transcript.Messages)
		if err != nil {
			return transcript, fmt.Errorf("%s failed to reply: %w", agent.Name, err)
		}
		transcript.Messages = append(transcript.Messages, llm.Message{Role: llm.RoleAssistant, Content: reply})

		blocks := sandbox.ExtractCodeBlocks(reply)
		terminate := IsTermination(reply)
		log.Debug("assistant replied", "turn", transcript.Replies(), "code_blocks", len(blocks), "terminate", terminate)

		// Termination is checked before execution; code sent with TERMINATE never runs.
		if terminate {
			if len(blocks) > 0 {
				log.Warn("ignoring code sent with TERMINATE", "code_blocks", len(blocks))
			}
			transcript.Reason = ReasonTerminated
			break
		}

		if autoReplies >= r.maxAutoReplies {
			transcript.Reason = ReasonMaxAutoReplies
			log.Warn("auto-reply limit reached", "max_auto_replies", r.maxAutoReplies)
			break
		}

		if len(blocks) > 0 {
			r.execute(ctx, transcript, blocks)
		} else {
			transcript.Messages = append(transcript.Messages, llm.Message{Role: llm.RoleUser, Content: r.defaultAutoReply})
		}
		autoReplies++
	}

	metrics.ConversationTurns.WithLabelValues(agent.Name, string(transcript.Reason)).Observe(float64(transcript.Replies()))
	log.Info("conversation finished", "reason", transcript.Reason, "replies", transcript.Replies(), "executions", transcript.Executions)
	return transcript, nil
}

func (r *Runner) execute(ctx context.Context, transcript *Transcript, blocks []sandbox.CodeBlock) {
	result := r.executor.Run(ctx, blocks)
	transcript.Executions++
	transcript.Messages = append(transcript.Messages, llm.Message{Role: llm.RoleUser, Content: result.Reply()})
	if !result.Succeeded() {
		r.logger.Debug("code execution failed", "agent", transcript.Agent, "exit_code", result.ExitCode)
	}
}
