// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidate_rows (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL DEFAULT '',
    profile    TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL DEFAULT '',
    positions  TEXT,
    subject    TEXT,
    message    TEXT,
    raw        TEXT,
    error      TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_candidate_rows_status ON candidate_rows(status);
`

// Store implements store.Store using SQLite.
type Store struct {
	db         *sql.DB
	ErrorLimit int
}

var _ store.Store = (*Store)(nil)

// New opens the database at dbPath, initializing the schema if needed.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; SQLite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a pending row and returns its id.
func (s *Store) Add(ctx context.Context, name, profile string) (string, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO candidate_rows (name, profile, updated_at) VALUES (?, ?, ?)`,
		name, profile, time.Now(),
	)
	if err != nil {
		return "", err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// ListRows returns all rows in insertion order.
func (s *Store) ListRows(ctx context.Context) ([]types.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, profile, status, COALESCE(positions, ''), COALESCE(subject, ''),
		        COALESCE(message, ''), COALESCE(raw, ''), COALESCE(error, '')
		 FROM candidate_rows ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
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
			return nil, err
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

// MarkProcessing implements store.Store.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.exec(ctx, id,
		`UPDATE candidate_rows SET status = ?, updated_at = ? WHERE id = ?`,
		types.StatusProcessing, time.Now(),
	)
}

// WriteResult implements store.Store.
func (s *Store) WriteResult(ctx context.Context, id string, result types.RowResult) error {
	return s.exec(ctx, id,
		`UPDATE candidate_rows SET status = ?, positions = ?, subject = ?, message = ?, raw = ?,
		        error = NULL, updated_at = ? WHERE id = ?`,
		types.StatusDone, result.Positions, result.Subject, result.Message, result.Raw, time.Now(),
	)
}

// MarkError implements store.Store.
func (s *Store) MarkError(ctx context.Context, id string, message string) error {
	return s.exec(ctx, id,
		`UPDATE candidate_rows SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		types.StatusError, store.TruncateMessage(message, s.ErrorLimit), time.Now(),
	)
}

func (s *Store) exec(ctx context.Context, id, query string, args ...any) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", store.ErrRowNotFound, id)
	}
	result, err := s.db.ExecContext(ctx, query, append(args, n)...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrRowNotFound, id)
	}
	return nil
}
