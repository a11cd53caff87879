package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/auto-analyzer/internal/observability"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agent definitions and the model settings each one uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			agentSet, err := loadAgents(cfg)
			if err != nil {
				return err
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintAgents(agentSet.All())
			return nil
		},
	}

	cmd.Flags().String("provider", "", "LLM provider: gemini or anthropic")
	cmd.Flags().String("model", "", "Model name for every agent without its own")
	cmd.Flags().String("agents", "", "YAML file replacing the built-in agent definitions")
	return cmd
}
