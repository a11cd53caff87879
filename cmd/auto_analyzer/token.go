package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/server"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the /api routes of a server started with a JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")

			tokenConfig, err := config.LoadTokenConfig(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := server.NewTokens(tokenConfig, nil).Issue(subject)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", "", "Name of the client the token is issued to (required)")
	cmd.Flags().String("jwt-secret", "", "Signing secret (defaults to JWT_SECRET env var)")
	return cmd
}
