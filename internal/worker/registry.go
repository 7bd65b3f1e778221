// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// RegistryPrefix is the etcd prefix where workers register their address by rank.
	RegistryPrefix = "/quadrature/workers/"
)

// RegistryKey returns the key a worker of the given pool and rank registers under.
func RegistryKey(pool string, rank int) string {
	return RegistryPrefix + pool + "/" + strconv.Itoa(rank)
}

// Registry handles the registration of a worker in etcd.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
	cancel  context.CancelFunc
}

// NewRegistry creates a new worker registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "worker-registry"),
	}
}

// Register publishes addr as the address of rank in pool under a lease of
// ttlSeconds and keeps the lease alive until Deregister.
func (r *Registry) Register(ctx context.Context, pool string, rank int, addr string, ttlSeconds int64) error {
	r.key = RegistryKey(pool, rank)

	leaseResp, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err := r.client.Put(ctx, r.key, addr, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	keepAliveCh, err := r.client.KeepAlive(kaCtx, r.leaseID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		r.logger.Warn("keep-alive channel closed, worker registration may have expired")
	}()

	r.logger.Info("worker registered", "key", r.key, "addr", addr)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker", "key", r.key)
	if r.cancel != nil {
		r.cancel()
	}
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
