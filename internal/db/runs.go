package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateRun records the start of a batch run
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, mode string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, mode, status) VALUES ($1, $2, $3)`,
		runID, mode, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a batch run as finished with its counters
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, counts RunCounts) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE batch_runs
		 SET status = $1, attempted = $2, done = $3, failed = $4, deadline_hit = $5, completed_at = NOW()
		 WHERE id = $6`,
		status, counts.Attempted, counts.Done, counts.Failed, counts.DeadlineHit, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a batch run by ID. Returns nil when not found.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT id, mode, status, attempted, done, failed, deadline_hit, created_at, completed_at
		 FROM batch_runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent batch runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, mode, status, attempted, done, failed, deadline_hit, created_at, completed_at
		 FROM batch_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Mode, &run.Status, &run.Attempted, &run.Done, &run.Failed,
		&run.DeadlineHit, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
