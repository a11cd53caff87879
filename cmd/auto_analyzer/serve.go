package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/history"
	"github.com/jonathan/auto-analyzer/internal/observability"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/server"
	"github.com/jonathan/auto-analyzer/internal/server/ratelimit"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI and HTTP API",
		Long: `Start an HTTP server with an upload page that runs the pipeline and renders
the cleaned data, analysis results and visualizations. The same runs are available
as JSON under /api/runs. Only one run executes at a time.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().Int("port", 0, "Port to listen on (default 8501)")
	cmd.Flags().String("jwt-secret", "", "Require bearer tokens signed with this secret on /api routes (defaults to JWT_SECRET env var)")
	addPipelineFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	apiKey, _ := cmd.Flags().GetString("api-key")
	apiKey, err = config.LoadCredential(cfg.Provider, apiKey)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)

	var (
		recorder pipeline.Recorder
		store    history.Store
	)
	if cfg.DatabaseURL != "" {
		database, err := connectHistory(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		recorder, store = database, database
	} else {
		memory := history.NewMemory(history.DefaultTTL, history.DefaultCapacity)
		defer memory.Close()
		recorder, store = memory, memory
		logger.Info("DATABASE_URL not set; run history is kept in memory")
	}

	orchestrator, err := buildOrchestrator(cfg, apiKey, recorder, logger)
	if err != nil {
		return err
	}

	var tokens *server.Tokens
	switch tokenConfig, err := config.LoadTokenConfig(cfg.JWTSecret); {
	case errors.Is(err, config.ErrNoTokenSecret):
	case err != nil:
		return err
	default:
		tokens = server.NewTokens(tokenConfig, nil)
	}

	limitConfig, err := ratelimit.LoadConfig()
	if err != nil {
		return err
	}
	limiter := ratelimit.NewLimiter(limitConfig)

	srv, err := server.New(server.Config{
		Port:    cfg.Port,
		Runner:  orchestrator,
		History: store,
		Tokens:  tokens,
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		limiter.Stop()
		return err
	}

	logger.Info("open the UI", "url", fmt.Sprintf("http://localhost:%d/", cfg.Port))
	return srv.Start(ctx)
}
