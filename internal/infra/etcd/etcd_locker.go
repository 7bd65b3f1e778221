// internal/infra/etcd/etcd_locker.go
package etcd

import (
	"context"
	"errors"
	"fmt"

	"distributed-quadrature/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	// LockPrefix is the etcd prefix for pool locks.
	LockPrefix = "/quadrature/locks/"
	// LockSessionTTL is the lease TTL in seconds; a crashed leader's lock lapses after it.
	LockSessionTTL = 10
)

type etcdLock struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
	pool    string
}

// Unlock releases the pool lock and closes its session.
func (l *etcdLock) Unlock(ctx context.Context) error {
	defer l.session.Close()

	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("failed to unlock pool %s: %w", l.pool, err)
	}
	return nil
}

type etcdLocker struct {
	client *clientv3.Client
}

// NewEtcdLocker creates a pool locker backed by etcd mutexes.
func NewEtcdLocker(client *clientv3.Client) domain.Locker {
	return &etcdLocker{client: client}
}

// Lock tries once to take the lock for pool.
func (l *etcdLocker) Lock(ctx context.Context, pool string) (domain.Lock, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(LockSessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session for pool lock %s: %w", pool, err)
	}

	mutex := concurrency.NewMutex(session, LockPrefix+pool)
	if err := mutex.TryLock(ctx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, domain.ErrRunLocked
		}
		return nil, fmt.Errorf("failed to try acquiring pool lock %s: %w", pool, err)
	}

	return &etcdLock{
		mutex:   mutex,
		session: session,
		pool:    pool,
	}, nil
}
