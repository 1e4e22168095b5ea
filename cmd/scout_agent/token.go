package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator token for POST /runs",
	Long: `Signs a bearer token with JWT_SECRET (or server.jwt_secret in the config file) for a
scheduler or operator to present when triggering runs over HTTP.`,
	RunE: runToken,
}

var (
	tokenOperator string
	tokenTTL      time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "Operator name recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", server.DefaultTokenTTL, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &configFlags{}, nil)
	if err != nil {
		return err
	}
	secret := strings.TrimSpace(cfg.Server.JWTSecret)
	if secret == "" {
		return fmt.Errorf("JWT_SECRET environment variable or server.jwt_secret is required")
	}

	tokens, err := server.NewJWTService(secret, tokenTTL)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(tokenOperator)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", tokenTTL)
	return nil
}
