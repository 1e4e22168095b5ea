package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/scout-agent/internal/archive"
	"github.com/jonathan/scout-agent/internal/fetch"
	"github.com/jonathan/scout-agent/internal/lock"
	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/telemetry"
	"github.com/jonathan/scout-agent/internal/types"
)

// Processor turns one pending row into its result
type Processor interface {
	Process(ctx context.Context, row types.Row) (*types.RowResult, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, row types.Row) (*types.RowResult, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, row types.Row) (*types.RowResult, error) {
	return f(ctx, row)
}

// RunRecorder persists run start and completion. Failures are logged, never fatal.
type RunRecorder interface {
	StartRun(ctx context.Context, runID, mode string) error
	FinishRun(ctx context.Context, summary *Summary) error
}

// Options bound a single run
type Options struct {
	MaxItems int           `json:"max_items"` // 0 means no limit
	Deadline time.Duration `json:"deadline"`  // 0 means no deadline
}

// Pacing is the pause between successful rows: Base plus up to Jitter.
type Pacing struct {
	Base   time.Duration `json:"base" toml:"base"`
	Jitter time.Duration `json:"jitter" toml:"jitter"`
}

// DefaultPacing returns the standard pause between rows.
func DefaultPacing() Pacing {
	return Pacing{Base: 2 * time.Second, Jitter: 1 * time.Second}
}

// Summary reports what a run did
type Summary struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode,omitempty"`
	Attempted   int           `json:"attempted"`
	Done        int           `json:"done"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Stuck       int           `json:"stuck"` // rows left in processing by an earlier run
	DeadlineHit bool          `json:"deadline_hit"`
	Cancelled   bool          `json:"cancelled"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Runner processes pending rows one at a time
type Runner struct {
	store     store.Store
	processor Processor
	locker    lock.Locker
	recorder  RunRecorder
	archiver  archive.Archiver
	logger    *slog.Logger
	pacing    Pacing
	mode      string
	now       func() time.Time
	sleep     fetch.Sleeper
	jitter    func(limit time.Duration) time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithLocker sets the run lock. The default is an in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(r *Runner) { r.locker = l }
}

// WithRecorder stores run records.
func WithRecorder(rec RunRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithArchiver stores the raw response of every successful row.
func WithArchiver(a archive.Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithPacing sets the pause between rows.
func WithPacing(p Pacing) Option {
	return func(r *Runner) { r.pacing = p }
}

// WithMode labels runs in logs and run records.
func WithMode(mode string) Option {
	return func(r *Runner) { r.mode = mode }
}

// WithClock replaces time and waiting, mainly for tests.
func WithClock(now func() time.Time, sleep fetch.Sleeper) Option {
	return func(r *Runner) {
		r.now = now
		r.sleep = sleep
	}
}

// WithJitter replaces the pacing jitter source.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(r *Runner) { r.jitter = fn }
}

// NewRunner creates a runner over st.
func NewRunner(st store.Store, p Processor, opts ...Option) *Runner {
	r := &Runner{
		store:     st,
		processor: p,
		locker:    lock.NewLocal(),
		logger:    slog.Default(),
		pacing:    DefaultPacing(),
		now:       time.Now,
		sleep:     fetch.Sleep,
		jitter:    randomJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

// RunBatch processes pending rows in store order until none remain, MaxItems rows
// were attempted, the deadline watchdog stops the run, or ctx is cancelled.
//
// Rows with any non-empty status are skipped. A row is not started when the elapsed
// time plus the mean row duration so far would pass the deadline; a started row
// always runs to completion and has its outcome recorded.
func (r *Runner) RunBatch(ctx context.Context, opts Options) (*Summary, error) {
	release, err := r.locker.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			telemetry.BatchRuns.WithLabelValues("locked").Inc()
			return nil, fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer release()

	telemetry.RunInFlight.Set(1)
	defer telemetry.RunInFlight.Set(0)

	start := r.now()
	summary := &Summary{RunID: uuid.NewString(), Mode: r.mode}
	logger := r.logger.With("run_id", summary.RunID)

	rows, err := r.store.ListRows(ctx)
	if err != nil {
		telemetry.BatchRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}

	pending := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		if !row.Status.IsEmpty() {
			summary.Skipped++
			if row.Status == types.StatusProcessing {
				summary.Stuck++
			}
			if !row.Status.IsKnown() {
				logger.Info("batch.unknown_status", "row_id", row.ID, "status", row.Status)
			}
			continue
		}
		pending = append(pending, row)
	}
	if summary.Stuck > 0 {
		logger.Warn("batch.stuck_rows", "count", summary.Stuck)
	}

	r.recordStart(ctx, logger, summary)
	logger.Info("batch.start", "mode", r.mode, "pending", len(pending), "skipped", summary.Skipped,
		"max_items", opts.MaxItems, "deadline", opts.Deadline)

	var busy time.Duration
	for i, row := range pending {
		if opts.MaxItems > 0 && summary.Attempted >= opts.MaxItems {
			break
		}
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		if r.pastDeadline(start, busy, summary.Attempted, opts.Deadline) {
			summary.DeadlineHit = true
			logger.Info("batch.deadline", "elapsed", r.now().Sub(start), "attempted", summary.Attempted)
			break
		}

		rowStart := r.now()
		ok := r.processRow(ctx, logger, summary.RunID, row)
		took := r.now().Sub(rowStart)
		busy += took
		summary.Attempted++
		telemetry.RowDuration.Observe(took.Seconds())
		if ok {
			summary.Done++
		} else {
			summary.Failed++
		}

		if !ok || !r.hasNext(i, len(pending), summary.Attempted, opts) {
			continue
		}
		if r.pastDeadline(start, busy, summary.Attempted, opts.Deadline) {
			continue
		}
		if err := r.pause(ctx); err != nil {
			summary.Cancelled = true
			break
		}
	}

	summary.Elapsed = r.now().Sub(start)
	result := "completed"
	switch {
	case summary.Cancelled:
		result = "cancelled"
	case summary.DeadlineHit:
		result = "deadline"
	}
	telemetry.BatchRuns.WithLabelValues(result).Inc()
	r.recordFinish(ctx, logger, summary)

	logger.Info("batch.finish", "attempted", summary.Attempted, "done", summary.Done, "failed", summary.Failed,
		"deadline_hit", summary.DeadlineHit, "cancelled", summary.Cancelled, "elapsed", summary.Elapsed)
	return summary, nil
}

// pastDeadline is the watchdog: elapsed plus the mean observed row duration must stay within deadline.
func (r *Runner) pastDeadline(start time.Time, busy time.Duration, attempted int, deadline time.Duration) bool {
	if deadline <= 0 {
		return false
	}
	elapsed := r.now().Sub(start)
	if elapsed >= deadline {
		return true
	}
	var mean time.Duration
	if attempted > 0 {
		mean = busy / time.Duration(attempted)
	}
	return elapsed+mean > deadline
}

func (r *Runner) hasNext(i, pending, attempted int, opts Options) bool {
	if i+1 >= pending {
		return false
	}
	return opts.MaxItems <= 0 || attempted < opts.MaxItems
}

func (r *Runner) pause(ctx context.Context) error {
	d := r.pacing.Base + r.jitter(r.pacing.Jitter)
	if d <= 0 {
		return nil
	}
	return r.sleep(ctx, d)
}

// processRow runs one row through processing and persists its outcome.
// Status writes outlive cancellation of ctx so a started row is always recorded.
func (r *Runner) processRow(ctx context.Context, logger *slog.Logger, runID string, row types.Row) bool {
	writeCtx := context.WithoutCancel(ctx)
	logger = logger.With("row_id", row.ID, "row_index", row.Index)

	if err := r.store.MarkProcessing(writeCtx, row.ID); err != nil {
		logger.Error("batch.mark_processing_failed", "error", err)
		telemetry.RowsProcessed.WithLabelValues("store_error").Inc()
		return false
	}

	result, err := r.safeProcess(ctx, row)
	if err != nil {
		var ferr *fetch.Error
		logger.Warn("batch.row_failed", "error", err, "retryable", errors.As(err, &ferr) && ferr.Retryable())
		telemetry.RowsProcessed.WithLabelValues("error").Inc()
		if werr := r.store.MarkError(writeCtx, row.ID, err.Error()); werr != nil {
			logger.Error("batch.mark_error_failed", "error", werr)
		}
		return false
	}

	if err := r.store.WriteResult(writeCtx, row.ID, *result); err != nil {
		logger.Error("batch.write_result_failed", "error", err)
		telemetry.RowsProcessed.WithLabelValues("store_error").Inc()
		if werr := r.store.MarkError(writeCtx, row.ID, "write result: "+err.Error()); werr != nil {
			logger.Error("batch.mark_error_failed", "error", werr)
		}
		return false
	}

	if r.archiver != nil && result.Raw != "" {
		if loc, err := r.archiver.Archive(writeCtx, archive.Key(runID, row.ID), []byte(result.Raw)); err != nil {
			logger.Warn("batch.archive_failed", "error", err)
		} else {
			logger.Debug("batch.archived", "location", loc)
		}
	}

	telemetry.RowsProcessed.WithLabelValues("done").Inc()
	logger.Info("batch.row_done")
	return true
}

func (r *Runner) safeProcess(ctx context.Context, row types.Row) (result *types.RowResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = stageErr(StagePanic, fmt.Errorf("%v", rec))
		}
	}()
	result, err = r.processor.Process(ctx, row)
	if err == nil && result == nil {
		err = errors.New("processor returned no result")
	}
	return result, err
}

func (r *Runner) recordStart(ctx context.Context, logger *slog.Logger, s *Summary) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.StartRun(context.WithoutCancel(ctx), s.RunID, r.mode); err != nil {
		logger.Warn("batch.record_start_failed", "error", err)
	}
}

func (r *Runner) recordFinish(ctx context.Context, logger *slog.Logger, s *Summary) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(context.WithoutCancel(ctx), s); err != nil {
		logger.Warn("batch.record_finish_failed", "error", err)
	}
}
