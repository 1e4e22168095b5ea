package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/config"
	"github.com/jonathan/scout-agent/internal/db"
	"github.com/jonathan/scout-agent/internal/ingestion"
	"github.com/jonathan/scout-agent/internal/store/sqlite"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a candidate row to a SQLite or PostgreSQL store",
	Long: `Inserts a pending row into the configured table store. Spreadsheet rows are added
in the workbook itself.`,
	RunE: runAdd,
}

var (
	addFlags       configFlags
	addName        string
	addProfileFile string
)

func init() {
	addFlags.register(addCmd)
	addCmd.Flags().StringVar(&addName, "name", "", "Candidate name")
	addCmd.Flags().StringVar(&addProfileFile, "profile-file", "", "File holding the pasted profile (text or HTML)")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("profile-file")
	rootCmd.AddCommand(addCmd)
}

type addFunc func(ctx context.Context, name, profile string) (string, error)

func runAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &addFlags, (*config.Config).ValidateStore)
	if err != nil {
		return err
	}
	profile, err := ingestion.IngestFromFile(addProfileFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	var add addFunc
	switch s := a.store.(type) {
	case *sqlite.Store:
		add = s.Add
	case *db.DB:
		add = s.AddRow
	default:
		return fmt.Errorf("store backend %q does not support adding rows", cfg.Store.Backend)
	}

	id, err := add(ctx, addName, profile)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added row %s\n", id)
	return nil
}
