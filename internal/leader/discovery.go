// internal/leader/discovery.go
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"distributed-quadrature/internal/worker"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkerDiscovery tracks the worker addresses registered for one pool.
type WorkerDiscovery struct {
	client  *clientv3.Client
	pool    string
	logger  *slog.Logger
	workers map[int]string // rank -> addr
	changed chan struct{}
	mu      sync.RWMutex
}

// NewWorkerDiscovery creates a discovery service for pool.
func NewWorkerDiscovery(client *clientv3.Client, pool string, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		pool:    pool,
		logger:  logger.With("component", "worker-discovery", "pool", pool),
		workers: make(map[int]string),
		changed: make(chan struct{}),
	}
}

func (d *WorkerDiscovery) prefix() string {
	return worker.RegistryPrefix + d.pool + "/"
}

// ParseRank extracts the rank from a registration key under prefix.
func ParseRank(prefix, key string) (int, error) {
	suffix := strings.TrimPrefix(key, prefix)
	if suffix == key || suffix == "" {
		return 0, fmt.Errorf("key %q is not under %q", key, prefix)
	}
	rank, err := strconv.Atoi(suffix)
	if err != nil || rank < 1 {
		return 0, fmt.Errorf("key %q does not end in a worker rank", key)
	}
	return rank, nil
}

// WatchWorkers loads the current registrations and then follows changes until
// ctx ends. This is a blocking call and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch for workers")

	rev, err := d.loadInitialWorkers(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial worker load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	watchChan := d.client.Watch(ctx, d.prefix(), opts...)
	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			rank, err := ParseRank(d.prefix(), key)
			if err != nil {
				d.logger.Warn("ignoring registration", "key", key, "error", err)
				continue
			}
			switch event.Type {
			case clientv3.EventTypePut:
				d.set(rank, string(event.Kv.Value))
			case clientv3.EventTypeDelete:
				d.remove(rank)
			}
		}
	}
	d.logger.Info("stopped watching for workers")
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, d.prefix(), clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}
	for _, kv := range resp.Kvs {
		rank, err := ParseRank(d.prefix(), string(kv.Key))
		if err != nil {
			d.logger.Warn("ignoring registration", "key", string(kv.Key), "error", err)
			continue
		}
		d.set(rank, string(kv.Value))
	}
	return resp.Header.Revision, nil
}

func (d *WorkerDiscovery) set(rank int, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.workers[rank]; !ok || old != addr {
		d.logger.Info("worker discovered", "rank", rank, "addr", addr)
	}
	d.workers[rank] = addr
	d.notifyLocked()
}

func (d *WorkerDiscovery) remove(rank int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("worker deregistered", "rank", rank, "addr", d.workers[rank])
	delete(d.workers, rank)
	d.notifyLocked()
}

func (d *WorkerDiscovery) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// Addrs returns the addresses of ranks 1..p-1 if all are registered.
func (d *WorkerDiscovery) Addrs(p int) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return addrsForRanks(d.workers, p)
}

func addrsForRanks(workers map[int]string, p int) ([]string, bool) {
	addrs := make([]string, 0, p-1)
	for rank := 1; rank < p; rank++ {
		addr, ok := workers[rank]
		if !ok {
			return nil, false
		}
		addrs = append(addrs, addr)
	}
	return addrs, true
}

// WaitForRanks blocks until ranks 1..p-1 are all registered and returns their
// addresses in rank order.
func (d *WorkerDiscovery) WaitForRanks(ctx context.Context, p int) ([]string, error) {
	for {
		d.mu.RLock()
		addrs, ok := addrsForRanks(d.workers, p)
		changed := d.changed
		have := len(d.workers)
		d.mu.RUnlock()
		if ok {
			return addrs, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %d workers (have %d): %w", p-1, have, ctx.Err())
		}
	}
}
