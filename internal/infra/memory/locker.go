package memory

import (
	"context"
	"sync"

	"distributed-quadrature/internal/domain"
)

// Locker is a process-local pool locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a locker with no pools held.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) Lock(_ context.Context, pool string) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[pool] {
		return nil, domain.ErrRunLocked
	}
	l.held[pool] = true
	return &lock{locker: l, pool: pool}, nil
}

type lock struct {
	locker *Locker
	pool   string
	once   sync.Once
}

func (k *lock) Unlock(context.Context) error {
	k.once.Do(func() {
		k.locker.mu.Lock()
		delete(k.locker.held, k.pool)
		k.locker.mu.Unlock()
	})
	return nil
}
