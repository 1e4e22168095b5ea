package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/scout-agent/internal/fetch"
	"github.com/jonathan/scout-agent/internal/lock"
	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/types"
)

type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func rowsNamed(names ...string) []types.Row {
	rows := make([]types.Row, len(names))
	for i, n := range names {
		rows[i] = types.Row{Name: n, Profile: "profile of " + n}
	}
	return rows
}

// timedProcessor takes d per row and fails rows whose name is in fail.
func timedProcessor(clock *fakeClock, d time.Duration, fail ...string) (Processor, *[]string) {
	var seen []string
	failing := map[string]bool{}
	for _, f := range fail {
		failing[f] = true
	}
	return ProcessorFunc(func(_ context.Context, row types.Row) (*types.RowResult, error) {
		seen = append(seen, row.Name)
		clock.Advance(d)
		if failing[row.Name] {
			return nil, stageErr(StageCall, errors.New("downstream refused"))
		}
		return &types.RowResult{Positions: "J1 - Sales", Message: "hello " + row.Name, Raw: `{"positions":[]}`}, nil
	}), &seen
}

func newTestRunner(st store.Store, p Processor, clock *fakeClock, opts ...Option) *Runner {
	base := []Option{
		WithClock(clock.Now, clock.Sleep),
		WithPacing(Pacing{Base: time.Second}),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
	}
	return NewRunner(st, p, append(base, opts...)...)
}

func TestRunBatch_ProcessesPendingRowsInOrder(t *testing.T) {
	rows := rowsNamed("a", "b", "c", "d")
	rows[1].Status = types.StatusDone
	rows[2].Status = "保留"
	st := store.NewMemory(rows...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, time.Second)

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "d"}, *seen)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 2, summary.Done)
	assert.Equal(t, 2, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)

	a, _ := st.Get("1")
	assert.Equal(t, types.StatusDone, a.Status)
	assert.Equal(t, "hello a", a.Result.Message)
	c, _ := st.Get("3")
	assert.Equal(t, types.RowStatus("保留"), c.Status)
}

func TestRunBatch_IdempotentRerun(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b")...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, time.Second, "b")
	r := newTestRunner(st, proc, clock)

	first, err := r.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Done)
	assert.Equal(t, 1, first.Failed)

	before, err := st.ListRows(context.Background())
	require.NoError(t, err)

	second, err := r.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Attempted)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, []string{"a", "b"}, *seen)

	after, err := st.ListRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, types.StatusDone, after[0].Status)
	assert.Equal(t, "hello a", after[0].Result.Message)
	assert.Equal(t, types.StatusError, after[1].Status)
	assert.Equal(t, "call: downstream refused", after[1].Error)
}

func TestRunBatch_FailingRowDoesNotStopOthers(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c", "d", "e")...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, time.Second, "c")

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, *seen)
	assert.Equal(t, 4, summary.Done)
	assert.Equal(t, 1, summary.Failed)

	rows, err := st.ListRows(context.Background())
	require.NoError(t, err)
	var statuses []types.RowStatus
	for _, r := range rows {
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []types.RowStatus{
		types.StatusDone, types.StatusDone, types.StatusError, types.StatusDone, types.StatusDone,
	}, statuses)
}

func TestRunBatch_RerunAfterDeadlineResumes(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c", "d", "e", "f", "g", "h", "i", "j")...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, 10*time.Second)
	r := newTestRunner(st, proc, clock, WithPacing(Pacing{}))
	opts := Options{Deadline: 25 * time.Second}

	first, err := r.RunBatch(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, first.DeadlineHit)
	assert.Equal(t, 2, first.Attempted)

	second, err := r.RunBatch(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 2, second.Attempted)
	assert.Equal(t, []string{"a", "b", "c", "d"}, *seen)

	c, _ := st.Get("3")
	assert.Equal(t, types.StatusDone, c.Status)
	e, _ := st.Get("5")
	assert.Equal(t, types.StatusEmpty, e.Status)
}

func TestRunBatch_LogsRetryableFailuresAndUnknownStatuses(t *testing.T) {
	rows := rowsNamed("a", "b", "c")
	rows[0].Status = "保留"
	st := store.NewMemory(rows...)
	proc := ProcessorFunc(func(_ context.Context, row types.Row) (*types.RowResult, error) {
		if row.Name == "b" {
			return nil, stageErr(StageCall, &fetch.Error{URL: "http://match", Kind: fetch.KindTransient, Message: "retries exhausted"})
		}
		return nil, stageErr(StageCall, &fetch.Error{URL: "http://match", Kind: fetch.KindPermanent, StatusCode: 400})
	})

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	_, err := newTestRunner(st, proc, newFakeClock(), WithLogger(logger)).RunBatch(context.Background(), Options{})
	require.NoError(t, err)

	var failures []bool
	var unknown []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		switch entry["msg"] {
		case "batch.row_failed":
			failures = append(failures, entry["retryable"].(bool))
		case "batch.unknown_status":
			unknown = append(unknown, entry["status"].(string))
		}
	}
	assert.Equal(t, []bool{true, false}, failures)
	assert.Equal(t, []string{"保留"}, unknown)
}

func TestRunBatch_MaxItems(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c")...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, time.Second)

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, []string{"a", "b"}, *seen)
	// one pause between the two rows, none after the last allowed row
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
}

func TestRunBatch_WatchdogProjectsMeanRowDuration(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c", "d")...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, 10*time.Second)

	r := newTestRunner(st, proc, clock, WithPacing(Pacing{}))
	summary, err := r.RunBatch(context.Background(), Options{Deadline: 25 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, *seen)
	assert.True(t, summary.DeadlineHit)
	assert.Equal(t, 2, summary.Attempted)

	c, _ := st.Get("3")
	assert.Equal(t, types.StatusEmpty, c.Status)
}

func TestRunBatch_InFlightRowFinishesPastDeadline(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b")...)
	clock := newFakeClock()
	proc, _ := timedProcessor(clock, time.Minute)

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{Deadline: 30 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Done)
	assert.True(t, summary.DeadlineHit)
	assert.Empty(t, clock.Sleeps())
	a, _ := st.Get("1")
	assert.Equal(t, types.StatusDone, a.Status)
}

func TestRunBatch_PacingOnlyAfterSuccess(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c")...)
	clock := newFakeClock()
	proc, _ := timedProcessor(clock, time.Second, "a")

	r := newTestRunner(st, proc, clock,
		WithPacing(Pacing{Base: 2 * time.Second, Jitter: time.Second}),
		WithJitter(func(limit time.Duration) time.Duration { return limit / 2 }),
	)
	summary, err := r.RunBatch(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Done)
	// a failed: no pause. b succeeded with c pending: pause. c is last: no pause.
	assert.Equal(t, []time.Duration{2500 * time.Millisecond}, clock.Sleeps())
}

func TestRunBatch_RowErrorsAreRecorded(t *testing.T) {
	st := store.NewMemory(rowsNamed("a")...)
	clock := newFakeClock()
	proc, _ := timedProcessor(clock, time.Second, "a")

	_, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{})
	require.NoError(t, err)

	a, _ := st.Get("1")
	assert.Equal(t, types.StatusError, a.Status)
	assert.Equal(t, "call: downstream refused", a.Error)
}

func TestRunBatch_PanicBecomesRowError(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b")...)
	clock := newFakeClock()
	proc := ProcessorFunc(func(_ context.Context, row types.Row) (*types.RowResult, error) {
		if row.Name == "a" {
			panic("boom")
		}
		return &types.RowResult{Message: "ok"}, nil
	})

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Done)

	a, _ := st.Get("1")
	assert.Equal(t, types.StatusError, a.Status)
	assert.Contains(t, a.Error, "boom")
}

func TestRunBatch_NilResultIsError(t *testing.T) {
	st := store.NewMemory(rowsNamed("a")...)
	proc := ProcessorFunc(func(context.Context, types.Row) (*types.RowResult, error) { return nil, nil })

	summary, err := newTestRunner(st, proc, newFakeClock()).RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunBatch_AlreadyRunning(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	defer release()

	st := store.NewMemory(rowsNamed("a")...)
	proc, seen := timedProcessor(newFakeClock(), 0)

	_, err = NewRunner(st, proc, WithLocker(l)).RunBatch(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Empty(t, *seen)
}

func TestRunBatch_ReleasesLock(t *testing.T) {
	l := lock.NewLocal()
	st := store.NewMemory()
	r := newTestRunner(st, ProcessorFunc(func(context.Context, types.Row) (*types.RowResult, error) { return nil, nil }), newFakeClock(), WithLocker(l))

	_, err := r.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	_, err = r.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
}

type failingStore struct {
	store.Store
}

func (failingStore) ListRows(context.Context) ([]types.Row, error) {
	return nil, errors.New("sheet unavailable")
}

func TestRunBatch_ListErrorAborts(t *testing.T) {
	_, err := newTestRunner(failingStore{}, nil, newFakeClock()).RunBatch(context.Background(), Options{})
	assert.ErrorContains(t, err, "sheet unavailable")
}

func TestRunBatch_CancelStopsNewRows(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b", "c")...)
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()

	var seen []string
	proc := ProcessorFunc(func(_ context.Context, row types.Row) (*types.RowResult, error) {
		seen = append(seen, row.Name)
		cancel()
		return &types.RowResult{Message: "ok"}, nil
	})

	summary, err := newTestRunner(st, proc, clock).RunBatch(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, []string{"a"}, seen)

	// the in-flight row was still recorded
	a, _ := st.Get("1")
	assert.Equal(t, types.StatusDone, a.Status)
}

func TestRunBatch_ReportsStuckRows(t *testing.T) {
	rows := rowsNamed("a", "b")
	rows[0].Status = types.StatusProcessing
	st := store.NewMemory(rows...)
	clock := newFakeClock()
	proc, seen := timedProcessor(clock, time.Second)

	summary, err := newTestRunner(st, proc, clock).RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stuck)
	assert.Equal(t, []string{"b"}, *seen)

	a, _ := st.Get("1")
	assert.Equal(t, types.StatusProcessing, a.Status)
}

type recordingArchiver struct {
	keys []string
}

func (a *recordingArchiver) Archive(_ context.Context, key string, _ []byte) (string, error) {
	a.keys = append(a.keys, key)
	return "mem://" + key, nil
}

type recordingRecorder struct {
	started  []string
	finished []*Summary
}

func (r *recordingRecorder) StartRun(_ context.Context, runID, _ string) error {
	r.started = append(r.started, runID)
	return nil
}

func (r *recordingRecorder) FinishRun(_ context.Context, s *Summary) error {
	r.finished = append(r.finished, s)
	return errors.New("ledger offline")
}

func TestRunBatch_ArchiveAndRecord(t *testing.T) {
	st := store.NewMemory(rowsNamed("a", "b")...)
	clock := newFakeClock()
	proc, _ := timedProcessor(clock, time.Second, "b")
	arch := &recordingArchiver{}
	rec := &recordingRecorder{}

	summary, err := newTestRunner(st, proc, clock, WithArchiver(arch), WithRecorder(rec), WithMode("scout")).
		RunBatch(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"runs/" + summary.RunID + "/1.json"}, arch.keys)
	assert.Equal(t, []string{summary.RunID}, rec.started)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, "scout", rec.finished[0].Mode)
}
