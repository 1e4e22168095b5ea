package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/server/middleware"
	"github.com/jonathan/scout-agent/internal/server/ratelimit"
	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/telemetry"
	"github.com/jonathan/scout-agent/internal/types"
)

// Runner runs one batch
type Runner interface {
	RunBatch(ctx context.Context, opts batch.Options) (*batch.Summary, error)
}

// RowLister reads the row snapshot for status reporting
type RowLister interface {
	ListRows(ctx context.Context) ([]types.Row, error)
}

// Config holds server configuration
type Config struct {
	Addr         string
	Defaults     batch.Options // used for fields the request leaves unset
	RunTimeout   time.Duration // upper bound on one triggered run, 0 = none
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // empty disables auth on POST /runs
	RateLimit    ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	cfg     Config
	runner  Runner
	rows    RowLister
	tokens  *JWTService
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New creates a new server instance
func New(cfg Config, runner Runner, rows RowLister, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		rows:    rows,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
	}
	if cfg.JWTSecret != "" {
		tokens, err := NewJWTService(cfg.JWTSecret, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to create token service: %w", err)
		}
		s.tokens = tokens
	}
	return s, nil
}

// Tokens returns the operator token service, nil when auth is disabled.
func (s *Server) Tokens() *JWTService {
	return s.tokens
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID, s.withLogging)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())
	r.Get("/rows/summary", s.handleRowSummary)

	r.Group(func(r chi.Router) {
		if s.tokens != nil {
			r.Use(middleware.AuthMiddleware(s.tokens.AsTokenValidator()))
		}
		r.Use(s.withRateLimit)
		r.Post("/runs", s.handleRun)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server.start", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

type runRequest struct {
	MaxItems *int   `json:"max_items"`
	Deadline string `json:"deadline"` // Go duration, e.g. "90s"
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	opts, err := s.parseRunRequest(r)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	// A dropped client must not cut the run short; only the run timeout does.
	ctx := context.WithoutCancel(r.Context())
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	summary, err := s.runner.RunBatch(ctx, opts)
	if err != nil {
		status := HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("server.run_failed", "error", err)
		}
		s.errorResponse(w, status, err.Error())
		return
	}
	s.logger.Info("server.run_done", "operator", middleware.Operator(r), "run_id", summary.RunID,
		"done", summary.Done, "failed", summary.Failed)
	s.jsonResponse(w, http.StatusOK, summary)
}

func (s *Server) parseRunRequest(r *http.Request) (batch.Options, error) {
	opts := s.cfg.Defaults
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return opts, &ErrValidation{Field: "body", Message: "invalid json"}
	}
	if req.MaxItems != nil {
		if *req.MaxItems < 0 {
			return opts, &ErrValidation{Field: "max_items", Message: "must be non-negative"}
		}
		opts.MaxItems = *req.MaxItems
	}
	if req.Deadline != "" {
		d, err := time.ParseDuration(req.Deadline)
		if err != nil || d < 0 {
			return opts, &ErrValidation{Field: "deadline", Message: "must be a non-negative duration"}
		}
		opts.Deadline = d
	}
	return opts, nil
}

func (s *Server) handleRowSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := s.rows.ListRows(r.Context())
	if err != nil {
		s.logger.Error("server.list_rows_failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read rows")
		return
	}
	s.jsonResponse(w, http.StatusOK, store.Summarize(rows))
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withRequestID tags each request with an X-Request-ID, reusing the caller's when present.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("server.request", "method", r.Method, "path", r.URL.Path,
			"request_id", w.Header().Get("X-Request-ID"), "elapsed", time.Since(start))
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := middleware.Operator(r)
		if clientID == "" {
			clientID = extractClientID(r)
		}

		info := s.limiter.Allow(clientID)
		s.setRateLimitHeaders(w, info)
		if !info.Allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID uses the IP address from RemoteAddr.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	retryAfter := int(info.RetryAfter.Seconds() + 0.999)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	s.logger.Warn("server.rate_limited", "limit", info.Limit, "retry_after", info.RetryAfter)
	s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"limit":       info.Limit,
		"retry_after": retryAfter,
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("server.encode_failed", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
