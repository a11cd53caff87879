package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/conversation"
	"github.com/jonathan/auto-analyzer/internal/db"
	"github.com/jonathan/auto-analyzer/internal/llm"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/sandbox"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

// newChatClient is swapped out in tests.
var newChatClient = llm.NewClient

// addPipelineFlags registers the flags shared by commands that run the pipeline.
func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("work-dir", "", "Working directory for a run (wiped at the start of each run)")
	flags.String("provider", "", "LLM provider: gemini or anthropic")
	flags.String("model", "", "Model name for every agent without its own")
	flags.String("api-key", "", "Provider API key (optional, defaults to GOOGLE_API_KEY or ANTHROPIC_API_KEY)")
	flags.String("agents", "", "YAML file replacing the built-in agent definitions")
	flags.String("python", "", "Python interpreter for agent code")
	flags.Int("max-auto-replies", 0, "Auto-replies per conversation before it is cut off")
	flags.Bool("strict", true, "Stop the run when a stage leaves no artifact")
	flags.String("db-url", "", "PostgreSQL connection URL for run history (optional, defaults to DATABASE_URL env var)")
}

// loadConfig builds the effective configuration: the --config file, then any flag the
// user set explicitly, then defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	var cfg config.Config
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	overrideString(flags, "work-dir", &cfg.WorkDir)
	overrideString(flags, "provider", &cfg.Provider)
	overrideString(flags, "model", &cfg.Model)
	overrideString(flags, "agents", &cfg.Agents)
	overrideString(flags, "python", &cfg.Python)
	overrideString(flags, "db-url", &cfg.DatabaseURL)
	overrideString(flags, "jwt-secret", &cfg.JWTSecret)
	overrideInt(flags, "max-auto-replies", &cfg.MaxAutoReplies)
	overrideInt(flags, "port", &cfg.Port)
	overrideBool(flags, "verbose", &cfg.Verbose)
	if changed(flags, "strict") {
		strict, _ := flags.GetBool("strict")
		cfg.StrictHandoff = &strict
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	defaults := config.Defaults()
	if cfg.Provider == string(llm.ProviderAnthropic) {
		defaults.Model = llm.DefaultAnthropicSettings().Model
	}
	cfg = cfg.MergeWithDefaults(defaults)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if changed(flags, name) {
		*dst, _ = flags.GetString(name)
	}
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int) {
	if changed(flags, name) {
		*dst, _ = flags.GetInt(name)
	}
}

func overrideBool(flags *pflag.FlagSet, name string, dst *bool) {
	if changed(flags, name) {
		*dst, _ = flags.GetBool(name)
	}
}

// baseSettings is the model configuration agents inherit unless they override it.
func baseSettings(cfg config.Config) llm.Settings {
	return llm.Settings{
		Provider:    llm.Provider(cfg.Provider),
		Model:       cfg.Model,
		Temperature: cfg.ModelTemperature(),
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxTokens:   cfg.MaxTokens,
		Retries:     cfg.LLMRetries,
	}
}

func loadAgents(cfg config.Config) (*agents.Set, error) {
	base := baseSettings(cfg)
	if cfg.Agents != "" {
		return agents.LoadFile(cfg.Agents, base)
	}
	return agents.Default(base)
}

// buildOrchestrator wires the agents, chat clients, code executor and recorder into
// a pipeline. It does not touch the working directory.
func buildOrchestrator(cfg config.Config, apiKey string, recorder pipeline.Recorder, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	agentSet, err := loadAgents(cfg)
	if err != nil {
		return nil, err
	}

	layout := workspace.New(cfg.WorkDir)
	executor := &sandbox.Executor{
		WorkDir: layout.Root,
		Python:  cfg.Python,
		Timeout: time.Duration(cfg.CodeTimeoutSeconds) * time.Second,
		Logger:  logger,
	}
	factory := func(ctx context.Context, settings llm.Settings) (llm.Client, error) {
		return newChatClient(ctx, settings, apiKey)
	}
	runner := conversation.NewRunner(factory, executor, conversation.Options{
		MaxAutoReplies: cfg.MaxAutoReplies,
		Logger:         logger,
	})

	return pipeline.New(runner, agentSet, pipeline.Options{
		Layout:   layout,
		Strict:   cfg.Strict(),
		Recorder: recorder,
		Logger:   logger,
	})
}

// connectHistory opens the run history database and makes sure its tables exist.
func connectHistory(ctx context.Context, databaseURL string) (*db.DB, error) {
	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
