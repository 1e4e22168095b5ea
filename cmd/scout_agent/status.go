package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/config"
	"github.com/jonathan/scout-agent/internal/db"
	"github.com/jonathan/scout-agent/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts by status and recent runs",
	Long: `Reads the row store and prints how many rows are pending, done, failed or stuck in
processing. Rows stuck in processing are left by interrupted runs; they are reported
here and never reset automatically.

With a database configured, --runs N also lists the last N recorded runs.`,
	RunE: runStatus,
}

var (
	statusFlags configFlags
	statusJSON  bool
	statusRuns  int
)

func init() {
	statusFlags.register(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 0, "Also list this many recent runs (requires a database)")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Rows store.Summary `json:"rows"`
	Runs []db.Run      `json:"runs,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &statusFlags, (*config.Config).ValidateStore)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rows: %w", err)
	}
	report := statusReport{Rows: store.Summarize(rows)}

	if statusRuns > 0 {
		if a.database == nil {
			return fmt.Errorf("--runs requires DATABASE_URL or --db-url")
		}
		if report.Runs, err = a.database.ListRuns(ctx, statusRuns); err != nil {
			return err
		}
	}

	printStatus(cmd.OutOrStdout(), report, statusJSON)
	return nil
}

func printStatus(w io.Writer, r statusReport, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}
	s := r.Rows
	fmt.Fprintf(w, "Rows: %d\n", s.Total)
	fmt.Fprintf(w, "  pending:    %d\n", s.Pending)
	fmt.Fprintf(w, "  processing: %d\n", s.Processing)
	fmt.Fprintf(w, "  done:       %d\n", s.Done)
	fmt.Fprintf(w, "  error:      %d\n", s.Error)
	if s.Other > 0 {
		fmt.Fprintf(w, "  other:      %d\n", s.Other)
	}

	if len(r.Runs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent runs:")
	for _, run := range r.Runs {
		fmt.Fprintf(w, "  %s  %-7s %-9s attempted=%d done=%d failed=%d",
			run.CreatedAt.Format("2006-01-02 15:04"), run.Mode, run.Status, run.Attempted, run.Done, run.Failed)
		if run.DeadlineHit {
			fmt.Fprint(w, " deadline")
		}
		fmt.Fprintln(w)
	}
}
