// Package batch runs the resumable, deadline-aware processing loop over a row store.
package batch

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when another run holds the run lock.
// The returned error also matches lock.ErrLocked.
var ErrAlreadyRunning = errors.New("a batch run is already in progress")

// Processing stages
const (
	StagePack      = "pack"
	StageCall      = "call"
	StageNormalize = "normalize"
	StageValidate  = "validate"
	StageCompose   = "compose"
	StagePanic     = "panic"
)

// StageError records which stage of row processing failed
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}
