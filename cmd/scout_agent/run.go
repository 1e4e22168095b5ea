package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/config"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Process pending rows once",
	Long: `Runs one batch over the row store: every row with an empty status is packed, sent to
the matching or generative service, normalized and written back. Rows that already carry
a status are skipped, so rerunning after a failure only picks up what is left.

The run stops starting new rows after --deadline or --max-items, and on SIGINT/SIGTERM.`,
	RunE: runBatchCmd,
}

var (
	runFlags configFlags
	runJSON  bool
)

func init() {
	runFlags.register(runCommand)
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
	rootCmd.AddCommand(runCommand)
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &runFlags, (*config.Config).Validate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runOnce(ctx, cfg, slog.Default())
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary, runJSON)
	}
	return err
}

// runOnce opens the configured backends, runs one batch and closes them again.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*batch.Summary, error) {
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	runner, err := a.newRunner(ctx)
	if err != nil {
		return nil, err
	}
	return runner.RunBatch(ctx, cfg.Run.Options())
}

func printSummary(w io.Writer, s *batch.Summary, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
		return
	}
	fmt.Fprintf(w, "Run %s (%s)\n", s.RunID, s.Mode)
	fmt.Fprintf(w, "  attempted: %d\n", s.Attempted)
	fmt.Fprintf(w, "  done:      %d\n", s.Done)
	fmt.Fprintf(w, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "  skipped:   %d\n", s.Skipped)
	if s.Stuck > 0 {
		fmt.Fprintf(w, "  stuck:     %d (left in processing by an earlier run)\n", s.Stuck)
	}
	if s.DeadlineHit {
		fmt.Fprintln(w, "  stopped at the deadline; rerun to continue")
	}
	if s.Cancelled {
		fmt.Fprintln(w, "  cancelled")
	}
	fmt.Fprintf(w, "  elapsed:   %s\n", s.Elapsed.Round(time.Millisecond))
}
