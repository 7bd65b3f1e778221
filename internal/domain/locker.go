// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrRunLocked is returned when another leader is already driving the worker pool.
var ErrRunLocked = errors.New("worker pool is locked by another leader")

// Lock represents a held pool lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out one lock per worker pool. Two leaders sharing a pool would
// interleave work items on the same links, so a leader holds the lock for the
// whole run. Lock must not block: a held lock yields ErrRunLocked.
type Locker interface {
	Lock(ctx context.Context, pool string) (Lock, error)
}
