package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/jonathan/scout-agent/internal/types"
)

// Memory is an in-process Store
type Memory struct {
	mu         sync.Mutex
	rows       []types.Row
	ErrorLimit int
}

// NewMemory creates a store holding rows in the given order.
// Rows without an ID get their 1-based position.
func NewMemory(rows ...types.Row) *Memory {
	m := &Memory{}
	for _, r := range rows {
		m.add(r)
	}
	return m
}

// Add appends a pending row and returns its id.
func (m *Memory) Add(name, profile string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(types.Row{Name: name, Profile: profile})
}

func (m *Memory) add(r types.Row) string {
	r.Index = len(m.rows)
	if r.ID == "" {
		r.ID = strconv.Itoa(r.Index + 1)
	}
	m.rows = append(m.rows, r)
	return r.ID
}

// ListRows implements Store.
func (m *Memory) ListRows(ctx context.Context) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Row, len(m.rows))
	for i, r := range m.rows {
		if r.Result != nil {
			res := *r.Result
			r.Result = &res
		}
		out[i] = r
	}
	return out, nil
}

// MarkProcessing implements Store.
func (m *Memory) MarkProcessing(_ context.Context, id string) error {
	return m.update(id, func(r *types.Row) {
		r.Status = types.StatusProcessing
	})
}

// WriteResult implements Store.
func (m *Memory) WriteResult(_ context.Context, id string, result types.RowResult) error {
	return m.update(id, func(r *types.Row) {
		r.Status = types.StatusDone
		r.Result = &result
		r.Error = ""
	})
}

// MarkError implements Store.
func (m *Memory) MarkError(_ context.Context, id string, message string) error {
	return m.update(id, func(r *types.Row) {
		r.Status = types.StatusError
		r.Error = TruncateMessage(message, m.ErrorLimit)
	})
}

// Get returns a copy of the row with id.
func (m *Memory) Get(id string) (types.Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, true
		}
	}
	return types.Row{}, false
}

func (m *Memory) update(id string, fn func(*types.Row)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			fn(&m.rows[i])
			return nil
		}
	}
	return ErrRowNotFound
}
