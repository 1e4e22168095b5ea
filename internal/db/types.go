package db

import (
	"time"

	"github.com/google/uuid"
)

// Run status values
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run represents a batch run record
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	Attempted   int        `json:"attempted"`
	Done        int        `json:"done"`
	Failed      int        `json:"failed"`
	DeadlineHit bool       `json:"deadline_hit"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunCounts are the outcome counters stored when a run completes
type RunCounts struct {
	Attempted   int
	Done        int
	Failed      int
	DeadlineHit bool
}
