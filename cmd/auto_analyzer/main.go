// Package main provides the auto_analyzer command line: run the clean, analyze and
// visualize agents over a CSV file, or serve the web UI that does the same.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "auto_analyzer",
		Short: "Automated CSV analysis with LLM agents",
		Long: `auto_analyzer hands a CSV file to three LLM agents in turn: a data engineer
cleans it, an analyst writes findings to analysis_results/, and a visualizer saves
plots to visuals/. Code the agents write is executed in the working directory.

Configuration can be loaded from a JSON file using --config. Command-line flags
override config file values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to config.json file (values can be overridden by other flags)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Print debug logs")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newAgentsCmd(),
		newTokenCmd(),
	)
	return root
}
