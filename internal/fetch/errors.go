package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a failed downstream call
type Kind string

// Failure kinds
const (
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindPermanent   Kind = "permanent"
)

// Sentinels for errors.Is against *Error
var (
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient server error")
	ErrPermanent   = errors.New("permanent request error")
)

// Error represents a failed downstream call after the retry policy gave up.
type Error struct {
	URL        string
	Kind       Kind
	StatusCode int // 0 for transport failures
	Body       string
	Message    string
	Cause      error
	State      RetryState
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// Retryable reports whether a later run might succeed with the same request.
func (e *Error) Retryable() bool {
	return e.Kind != KindPermanent
}
