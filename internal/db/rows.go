package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/types"
)

var _ store.Store = (*DB)(nil)

// AddRow inserts a pending candidate row and returns its id
func (db *DB) AddRow(ctx context.Context, name, profile string) (string, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO candidate_rows (name, profile) VALUES ($1, $2) RETURNING id`,
		name, profile,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to add row: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// ListRows returns all candidate rows in insertion order
func (db *DB) ListRows(ctx context.Context) ([]types.Row, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, profile, status, COALESCE(positions, ''), COALESCE(subject, ''),
		        COALESCE(message, ''), COALESCE(raw, ''), COALESCE(error, '')
		 FROM candidate_rows ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var (
			id     int64
			status string
			row    types.Row
			res    types.RowResult
		)
		if err := rows.Scan(&id, &row.Name, &row.Profile, &status, &res.Positions, &res.Subject,
			&res.Message, &res.Raw, &row.Error); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row.ID = strconv.FormatInt(id, 10)
		row.Index = len(out)
		row.Status = types.RowStatus(status)
		if row.Status == types.StatusDone {
			row.Result = &res
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkProcessing implements store.Store
func (db *DB) MarkProcessing(ctx context.Context, id string) error {
	return db.updateRow(ctx, id,
		`UPDATE candidate_rows SET status = $1, updated_at = NOW() WHERE id = $2`,
		types.StatusProcessing,
	)
}

// WriteResult implements store.Store
func (db *DB) WriteResult(ctx context.Context, id string, result types.RowResult) error {
	return db.updateRow(ctx, id,
		`UPDATE candidate_rows
		 SET status = $1, positions = $2, subject = $3, message = $4, raw = $5, error = NULL, updated_at = NOW()
		 WHERE id = $6`,
		types.StatusDone, result.Positions, result.Subject, result.Message, result.Raw,
	)
}

// MarkError implements store.Store
func (db *DB) MarkError(ctx context.Context, id string, message string) error {
	return db.updateRow(ctx, id,
		`UPDATE candidate_rows SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`,
		types.StatusError, store.TruncateMessage(message, db.ErrorLimit),
	)
}

func (db *DB) updateRow(ctx context.Context, id, query string, args ...any) error {
	n, err := parseRowID(id)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx, query, append(args, n)...)
	if err != nil {
		return fmt.Errorf("failed to update row %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrRowNotFound, id)
	}
	return nil
}

func parseRowID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", store.ErrRowNotFound, id)
	}
	return n, nil
}
