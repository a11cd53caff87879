package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/observability"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clean, analyze and visualize stages on a CSV file",
		Long: `Copies the input CSV into a fresh working directory and runs the three agents
in order: clean -> analyze -> visualize. Each stage reads what the previous one wrote.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
		Example: "  auto_analyzer run --input sales.csv\n  auto_analyzer run -i sales.csv --provider anthropic --strict=false",
		Args:    cobra.NoArgs,
		RunE:    runAnalysis,
	}

	cmd.Flags().StringP("input", "i", "", "Path to the CSV file to analyze (required)")
	cmd.Flags().Bool("show-results", true, "Print the cleaned data preview and analysis files after the run")
	addPipelineFlags(cmd)
	return cmd
}

func runAnalysis(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		return fmt.Errorf("--input is required")
	}

	// The credential is checked before anything touches the working directory.
	apiKey, _ := cmd.Flags().GetString("api-key")
	apiKey, err = config.LoadCredential(cfg.Provider, apiKey)
	if err != nil {
		return err
	}

	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("cannot read input: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", input)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)

	var recorder pipeline.Recorder
	if cfg.DatabaseURL != "" {
		database, err := connectHistory(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		recorder = database
	}

	orchestrator, err := buildOrchestrator(cfg, apiKey, recorder, logger)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	run, runErr := orchestrator.RunWithProgress(ctx, input, func(event pipeline.ProgressEvent) {
		if result, ok := event.Content.(pipeline.StageResult); ok {
			printer.PrintStage(result)
		}
	})
	printer.PrintRunSummary(run)
	if runErr != nil {
		return fmt.Errorf("analysis failed: %w", runErr)
	}

	if show, _ := cmd.Flags().GetBool("show-results"); show {
		if err := printResults(printer, orchestrator.Layout()); err != nil {
			return err
		}
	}
	return nil
}

// printResults prints what the stages left in the working directory.
func printResults(printer *observability.Printer, layout workspace.Layout) error {
	snapshot, err := layout.Inspect()
	if err != nil {
		return fmt.Errorf("failed to read results: %w", err)
	}

	printer.PrintTable("Cleaned Data Preview", snapshot.Preview)
	for _, result := range snapshot.Results {
		switch {
		case result.Err != "":
			printer.PrintText(result.Name, "could not read: "+result.Err)
		case result.Table != nil:
			printer.PrintTable(result.Name, result.Table)
		default:
			printer.PrintText(result.Name, result.Text)
		}
	}
	printer.PrintVisuals(layout, snapshot.Visuals)
	return nil
}
