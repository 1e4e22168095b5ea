// Package sheet implements store.Store on an xlsx workbook.
// The workbook is reopened for every read and write so edits made by an
// operator between runs are seen, and every write is saved before returning.
package sheet

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/types"
)

// Layout gives the 1-based column of each field. Zero means the field is not stored.
type Layout struct {
	Name       int `json:"name" toml:"name"`
	Profile    int `json:"profile" toml:"profile"`
	Status     int `json:"status" toml:"status"`
	Positions  int `json:"positions" toml:"positions"`
	Subject    int `json:"subject" toml:"subject"`
	Message    int `json:"message" toml:"message"`
	Raw        int `json:"raw" toml:"raw"`
	Error      int `json:"error" toml:"error"`
	HeaderRows int `json:"header_rows" toml:"header_rows"`
	ErrorLimit int `json:"error_limit" toml:"error_limit"`
}

// InMailLayout is the in-mail sheet: name, profile, status, positions, subject, body, raw/error.
func InMailLayout() Layout {
	return Layout{Name: 1, Profile: 2, Status: 3, Positions: 4, Subject: 5, Message: 6, Raw: 7, Error: 7, HeaderRows: 1, ErrorLimit: 500}
}

// FriendRequestLayout is the friend-request sheet: name, profile, note, status, raw/error.
func FriendRequestLayout() Layout {
	return Layout{Name: 1, Profile: 2, Message: 4, Status: 5, Raw: 6, Error: 6, HeaderRows: 1, ErrorLimit: 300}
}

// Store implements store.Store on one sheet of a workbook.
// mu serializes access within the process; it does not lock the file
// against other programs.
type Store struct {
	mu     sync.Mutex
	path   string
	sheet  string
	layout Layout
	labels store.Labels
}

var _ store.Store = (*Store)(nil)

// Open checks that the workbook at path has the named sheet.
func Open(path, sheet string, layout Layout, labels store.Labels) (*Store, error) {
	if layout.Status == 0 {
		return nil, fmt.Errorf("sheet layout requires a status column")
	}
	s := &Store{path: path, sheet: sheet, layout: layout, labels: labels}
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return s, nil
}

// open reads the current workbook from disk.
func (s *Store) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", s.path, err)
	}
	if idx, _ := f.GetSheetIndex(s.sheet); idx == -1 {
		_ = f.Close()
		return nil, fmt.Errorf("sheet %q not found in %s", s.sheet, s.path)
	}
	return f, nil
}

// Close is a no-op; the workbook is not held open between calls.
func (s *Store) Close() error {
	return nil
}

// ListRows returns data rows below the header. Rows with no name and no profile are skipped.
func (s *Store) ListRows(ctx context.Context) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cells, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", s.sheet, err)
	}

	var out []types.Row
	for i := s.layout.HeaderRows; i < len(cells); i++ {
		r := cells[i]
		get := func(col int) string {
			if col <= 0 || col > len(r) {
				return ""
			}
			return r[col-1]
		}
		name, profile := get(s.layout.Name), get(s.layout.Profile)
		if name == "" && profile == "" {
			continue
		}
		row := types.Row{
			ID:      strconv.Itoa(i + 1),
			Index:   len(out),
			Name:    name,
			Profile: profile,
			Status:  s.labels.Status(get(s.layout.Status)),
		}
		switch row.Status {
		case types.StatusDone:
			row.Result = &types.RowResult{
				Positions: get(s.layout.Positions),
				Subject:   get(s.layout.Subject),
				Message:   get(s.layout.Message),
				Raw:       get(s.layout.Raw),
			}
		case types.StatusError:
			row.Error = get(s.layout.Error)
		}
		out = append(out, row)
	}
	return out, nil
}

// MarkProcessing implements store.Store.
func (s *Store) MarkProcessing(_ context.Context, id string) error {
	return s.write(id, map[int]any{
		s.layout.Status: s.labels.Label(types.StatusProcessing),
	})
}

// WriteResult implements store.Store.
func (s *Store) WriteResult(_ context.Context, id string, result types.RowResult) error {
	return s.write(id, map[int]any{
		s.layout.Positions: result.Positions,
		s.layout.Subject:   result.Subject,
		s.layout.Message:   result.Message,
		s.layout.Raw:       result.Raw,
		s.layout.Status:    s.labels.Label(types.StatusDone),
	})
}

// MarkError implements store.Store.
func (s *Store) MarkError(_ context.Context, id string, message string) error {
	return s.write(id, map[int]any{
		s.layout.Error:  store.TruncateMessage(message, s.layout.ErrorLimit),
		s.layout.Status: s.labels.Label(types.StatusError),
	})
}

func (s *Store) write(id string, values map[int]any) error {
	rowNum, err := strconv.Atoi(id)
	if err != nil || rowNum <= s.layout.HeaderRows {
		return fmt.Errorf("%w: %q", store.ErrRowNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	for col, v := range values {
		if col <= 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(s.sheet, cell, v); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return nil
}
