package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/scout-agent/internal/config"
	"github.com/jonathan/scout-agent/internal/server"
	"github.com/jonathan/scout-agent/internal/server/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	Long: `Start an HTTP server for scheduled or manual triggers:

  POST /runs           run one batch (bearer token required when JWT_SECRET is set)
  GET  /rows/summary   row counts by status
  GET  /healthz        liveness
  GET  /metrics        Prometheus metrics`,
	RunE: runServe,
}

var (
	serveFlags configFlags
	serveAddr  string
)

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr, then :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &serveFlags, (*config.Config).Validate)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	srv, err := server.New(serverConfig(cfg), runner, a.store, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}

// serverConfig maps the file configuration onto the server's.
func serverConfig(cfg *config.Config) server.Config {
	s := cfg.Server
	return server.Config{
		Addr:         s.Addr,
		Defaults:     cfg.Run.Options(),
		RunTimeout:   s.RunTimeout.Duration,
		ReadTimeout:  s.ReadTimeout.Duration,
		WriteTimeout: s.WriteTimeout.Duration,
		JWTSecret:    s.JWTSecret,
		RateLimit: ratelimit.Config{
			Enabled: s.RateLimit > 0,
			Limit:   s.RateLimit,
			Window:  s.RateWindow.Duration,
		},
	}
}
