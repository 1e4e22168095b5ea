package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/scout-agent/internal/lock"
)

// AdvisoryLock is a lock.Locker backed by a session-level Postgres advisory lock.
// The lock lives on one pooled connection that is held until release.
type AdvisoryLock struct {
	db   *DB
	name string
}

var _ lock.Locker = (*AdvisoryLock)(nil)

// AdvisoryLock returns a locker keyed on hashtext(name)
func (db *DB) AdvisoryLock(name string) *AdvisoryLock {
	return &AdvisoryLock{db: db, name: name}
}

// TryAcquire implements lock.Locker
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (lock.Release, error) {
	conn, err := l.db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, l.name).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, lock.ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.name); err != nil {
				// unlock failed, drop the session so the server frees the lock
				_ = conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}
