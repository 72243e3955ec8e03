package main

import (
	"fmt"
	"time"

	"lexidraft-realtime/internal/auth"
	"lexidraft-realtime/internal/config"

	"github.com/spf13/cobra"
)

// tokenCmd mints tokens for service-to-service calls and local testing.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token utilities",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with LEXIDRAFT_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := auth.NewVerifier(cfg.JWT.Secret).Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringP("subject", "s", "", "Subject (user id)")
	issue.Flags().StringP("role", "r", "", "Role claim (admin, service, lawyer, client)")
	issue.Flags().Duration("ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	_ = issue.MarkFlagRequired("subject")

	cmd.AddCommand(issue)
	return cmd
}
