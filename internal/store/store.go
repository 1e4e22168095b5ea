// Package store defines the row store used as the batch idempotency ledger.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jonathan/scout-agent/internal/types"
)

// DefaultErrorLimit is the maximum length in runes of a persisted error message.
const DefaultErrorLimit = 500

// ErrRowNotFound is returned when a write targets an unknown row id
var ErrRowNotFound = errors.New("row not found")

// Store is a tabular store of candidate rows.
// ListRows returns a snapshot in store order; each write is visible immediately.
type Store interface {
	ListRows(ctx context.Context) ([]types.Row, error)
	MarkProcessing(ctx context.Context, id string) error
	WriteResult(ctx context.Context, id string, result types.RowResult) error
	MarkError(ctx context.Context, id string, message string) error
}

// TruncateMessage cuts msg to at most limit runes.
func TruncateMessage(msg string, limit int) string {
	if limit <= 0 {
		limit = DefaultErrorLimit
	}
	r := []rune(msg)
	if len(r) <= limit {
		return msg
	}
	return string(r[:limit])
}

// Summary counts rows per status
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
	Other      int `json:"other"`
}

// Summarize counts rows per status. Rows stuck in processing are reported, never reset.
func Summarize(rows []types.Row) Summary {
	var s Summary
	for _, r := range rows {
		s.Total++
		switch {
		case r.Status.IsEmpty():
			s.Pending++
		case r.Status == types.StatusProcessing:
			s.Processing++
		case r.Status == types.StatusDone:
			s.Done++
		case r.Status == types.StatusError:
			s.Error++
		default:
			s.Other++
		}
	}
	return s
}

// Labels maps status values to the text a store persists for them
type Labels struct {
	Processing string `json:"processing" toml:"processing"`
	Done       string `json:"done" toml:"done"`
	Error      string `json:"error" toml:"error"`
}

// SpreadsheetLabels returns the labels used by the operator spreadsheets.
func SpreadsheetLabels() Labels {
	return Labels{Processing: "処理中…", Done: "処理完了", Error: "エラー"}
}

// Label returns the persisted text for status.
func (l Labels) Label(status types.RowStatus) string {
	switch status {
	case types.StatusProcessing:
		if l.Processing != "" {
			return l.Processing
		}
	case types.StatusDone:
		if l.Done != "" {
			return l.Done
		}
	case types.StatusError:
		if l.Error != "" {
			return l.Error
		}
	}
	return string(status)
}

// Status maps persisted text back to a status.
// Unrecognized non-empty text is preserved so the row still counts as taken.
func (l Labels) Status(text string) types.RowStatus {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return types.StatusEmpty
	case t == l.Processing || t == string(types.StatusProcessing):
		return types.StatusProcessing
	case t == l.Done || t == string(types.StatusDone):
		return types.StatusDone
	case t == l.Error || t == string(types.StatusError):
		return types.StatusError
	}
	return types.RowStatus(t)
}
