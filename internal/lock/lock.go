// Package lock provides run-scoped mutual exclusion for batch runs.
package lock

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrLocked is returned when another holder owns the lock
var ErrLocked = errors.New("lock is held by another run")

// Release gives up a held lock. It is safe to call more than once.
type Release func()

// Locker acquires a lock without waiting.
type Locker interface {
	TryAcquire(ctx context.Context) (Release, error)
}

// Local is an in-process Locker
type Local struct {
	sem *semaphore.Weighted
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{sem: semaphore.NewWeighted(1)}
}

// TryAcquire implements Locker.
func (l *Local) TryAcquire(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.sem.TryAcquire(1) {
		return nil, ErrLocked
	}
	return once(func() { l.sem.Release(1) }), nil
}

func once(fn func()) Release {
	var o sync.Once
	return func() { o.Do(fn) }
}
