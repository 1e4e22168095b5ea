// Package server provides the HTTP trigger surface for batch runs.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/scout-agent/internal/batch"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var verr *ErrValidation
	switch {
	case errors.Is(err, batch.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
