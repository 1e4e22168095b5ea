package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/db"
)

// runRecorder stores run history in the batch_runs table.
type runRecorder struct {
	db *db.DB
}

func (r runRecorder) StartRun(ctx context.Context, runID, mode string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	return r.db.CreateRun(ctx, id, mode)
}

func (r runRecorder) FinishRun(ctx context.Context, s *batch.Summary) error {
	id, err := uuid.Parse(s.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", s.RunID, err)
	}
	return r.db.CompleteRun(ctx, id, db.RunStatusCompleted, db.RunCounts{
		Attempted:   s.Attempted,
		Done:        s.Done,
		Failed:      s.Failed,
		DeadlineHit: s.DeadlineHit,
	})
}
