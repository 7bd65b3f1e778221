// cmd/leader/links.go
package main

import (
	"context"
	"fmt"
	"log/slog"

	"distributed-quadrature/internal/config"
	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/leader"
	"distributed-quadrature/internal/quadrature"
	"distributed-quadrature/internal/transport/local"
	"distributed-quadrature/internal/transport/natsbus"
	"distributed-quadrature/internal/transport/rpc"
	"distributed-quadrature/internal/usecase"
	"distributed-quadrature/internal/worker"

	"github.com/nats-io/nats.go"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// linkBuilder opens one link per worker rank, peers[k] linking to rank k+1.
type linkBuilder func(ctx context.Context) ([]domain.Peer, error)

func newDispatcherFactory(cfg *config.Config, rule quadrature.Rule, links linkBuilder, logger *slog.Logger) usecase.DispatcherFactory {
	return func(ctx context.Context) (domain.Dispatcher, error) {
		peers, err := links(ctx)
		if err != nil {
			return nil, err
		}
		d, err := leader.NewDispatcher(leader.Options{
			Rule:             rule,
			Integrand:        quadrature.Pi,
			Samples:          cfg.Samples,
			RoundTripTimeout: cfg.RoundTripTimeout,
			ShutdownTimeout:  cfg.ShutdownTimeout,
		}, peers, logger)
		if err != nil {
			closeAll(peers)
			return nil, err
		}
		return d, nil
	}
}

// localLinks runs the workers as goroutines in this process.
func localLinks(cfg *config.Config, rule quadrature.Rule, logger *slog.Logger) linkBuilder {
	return func(ctx context.Context) ([]domain.Peer, error) {
		peers, endpoints := local.NewCluster(cfg.Processes)
		for k, ep := range endpoints {
			w := worker.NewWorker(k+1, rule, quadrature.Pi, cfg.Samples, logger)
			go func(ep domain.Endpoint) {
				// Workers outlive a cancelled run until the leader's shutdown sweep reaches them.
				if _, err := w.Loop(context.WithoutCancel(ctx), ep); err != nil {
					logger.Error("local worker stopped", "rank", w.Rank(), "error", err)
				}
			}(ep)
		}
		return peers, nil
	}
}

// grpcLinks dials every worker, resolving addresses through etcd discovery
// when a client is given and from worker_addrs otherwise.
func grpcLinks(cfg *config.Config, client *clientv3.Client, logger *slog.Logger) linkBuilder {
	return func(ctx context.Context) ([]domain.Peer, error) {
		addrs := cfg.WorkerAddrs
		if client != nil {
			discovery := leader.NewWorkerDiscovery(client, cfg.Pool, logger)
			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			go discovery.WatchWorkers(watchCtx)

			waitCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryWait)
			defer cancel()
			var err error
			if addrs, err = discovery.WaitForRanks(waitCtx, cfg.Processes); err != nil {
				return nil, fmt.Errorf("worker discovery failed: %w", err)
			}
		}

		// Streams outlive ctx so the shutdown sweep can still reach workers
		// after the run is cancelled. Round trips are bounded by their own ctx.
		streamCtx := context.WithoutCancel(ctx)
		peers := make([]domain.Peer, 0, len(addrs))
		for k, addr := range addrs {
			peer, err := rpc.Dial(streamCtx, k+1, addr)
			if err != nil {
				closeAll(peers)
				return nil, err
			}
			peers = append(peers, peer)
		}
		return peers, nil
	}
}

func natsLinks(cfg *config.Config, nc *nats.Conn) linkBuilder {
	return func(ctx context.Context) ([]domain.Peer, error) {
		peers := make([]domain.Peer, 0, cfg.Processes-1)
		for rank := 1; rank < cfg.Processes; rank++ {
			peer, err := natsbus.NewPeer(nc, cfg.NatsSubjectPrefix, rank)
			if err != nil {
				closeAll(peers)
				return nil, err
			}
			peers = append(peers, peer)
		}
		return peers, nil
	}
}

func closeAll(peers []domain.Peer) {
	for _, p := range peers {
		p.Close()
	}
}
