package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rlvr/internal/config"
	"rlvr/internal/playground"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the playground write routes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		token, err := playground.IssueToken(cfg.Server.JWTSecret, tokenSubject, tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w (set server.jwt_secret or %s)", err, config.EnvJWTSecret)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
