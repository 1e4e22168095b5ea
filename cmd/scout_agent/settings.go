package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/config"
)

// configFlags are the config overrides shared by commands that touch the row store.
type configFlags struct {
	mode      string
	store     string
	storePath string
	catalog   string
	matchURL  string
	dbURL     string
	apiKey    string
	maxItems  int
	deadline  time.Duration
}

func (f *configFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.mode, "mode", "", "Outreach mode: inmail or scout")
	fs.StringVar(&f.store, "store", "", "Row store: sheet, sqlite, postgres or memory")
	fs.StringVar(&f.storePath, "store-path", "", "Workbook or SQLite file for the row store")
	fs.StringVar(&f.catalog, "catalog", "", "Job catalog file (.json or .xlsx)")
	fs.StringVar(&f.matchURL, "match-url", "", "Matching service URL (defaults to MATCH_URL env var)")
	fs.StringVar(&f.dbURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	fs.StringVar(&f.apiKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	fs.IntVar(&f.maxItems, "max-items", 0, "Maximum rows to attempt (default 15, 0 = no limit)")
	fs.DurationVar(&f.deadline, "deadline", 0, "Stop starting new rows after this long (0 = no deadline)")
}

// loadConfig layers the config file, environment and explicitly set flags over the defaults.
// validate runs on the merged result; nil skips validation.
func loadConfig(cmd *cobra.Command, f *configFlags, validate func(*config.Config) error) (*config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
		slog.Debug("config.loaded", "path", configPath)
	}

	cfg.ApplyEnv(os.Getenv)

	// Only override if the flag was explicitly set
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = f.mode
	}
	if flags.Changed("store") {
		cfg.Store.Backend = f.store
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = f.storePath
	}
	if flags.Changed("catalog") {
		cfg.Catalog.Path = f.catalog
	}
	if flags.Changed("match-url") {
		cfg.Matching.URL = f.matchURL
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = f.dbURL
	}
	if flags.Changed("api-key") {
		cfg.LLM.APIKey = f.apiKey
	}
	if flags.Changed("max-items") {
		cfg.Run.MaxItems = f.maxItems
	}
	if flags.Changed("deadline") {
		cfg.Run.Deadline = config.Duration{Duration: f.deadline}
	}

	merged := cfg.MergeWithDefaults(config.Defaults())
	// A deadline of zero set on the command line means no deadline
	if flags.Changed("deadline") {
		merged.Run.Deadline = config.Duration{Duration: f.deadline}
	}
	if validate != nil {
		if err := validate(&merged); err != nil {
			return nil, err
		}
	}
	return &merged, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(logFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
