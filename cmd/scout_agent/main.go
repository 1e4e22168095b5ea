// Package main provides the entry point for the scout agent CLI and HTTP trigger.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "scout_agent",
	Short: "Batch outreach drafting for recruiting spreadsheets",
	Long: `Scout agent walks a sheet or table of candidates row by row, asks the matching and
generative services for suitable positions, and writes in-mail drafts or friend-request
notes back to each row. Runs are idempotent: rows with any status are skipped.

Configuration is loaded from a JSON or TOML file with --config, then environment
variables (a .env file is read when present), then command-line flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		slog.SetDefault(newLogger(cmd.ErrOrStderr()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (.json or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
