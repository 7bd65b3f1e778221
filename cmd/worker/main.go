// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"distributed-quadrature/internal/config"
	"distributed-quadrature/internal/infra/etcd"
	"distributed-quadrature/internal/quadrature"
	"distributed-quadrature/internal/tracing"
	"distributed-quadrature/internal/transport/natsbus"
	"distributed-quadrature/internal/transport/rpc"
	"distributed-quadrature/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	// 1. Init logger, config, etc.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	fs := config.Flags("worker")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("%v", err)
	}
	rule, err := quadrature.RuleByName(cfg.Rule)
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger = logger.With("rank", cfg.Rank)

	tracerShutdown, err := tracing.InitTracer("distributed-quadrature-worker-"+strconv.Itoa(cfg.Rank), cfg.TracingEnabled, os.Stderr)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(cfg.MetricsListenAddr, logger)
	}

	w := worker.NewWorker(cfg.Rank, rule, quadrature.Pi, cfg.Samples, logger)

	switch cfg.Transport {
	case config.TransportGRPC:
		err = serveGRPC(rootCtx, cfg, w, logger)
	case config.TransportNATS:
		err = serveNATS(rootCtx, cfg, w, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Println("Worker node shut down.")
}

// serveGRPC serves the Exchange stream until a leader sends a shutdown or ctx
// is cancelled.
func serveGRPC(ctx context.Context, cfg *config.Config, w *worker.Worker, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	// Register this worker in etcd
	if cfg.UsesEtcd() {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return fmt.Errorf("failed to create etcd client: %w", err)
		}
		defer etcdClient.Close()

		addr, err := advertiseAddr(cfg, lis.Addr())
		if err != nil {
			return err
		}
		registry := worker.NewRegistry(etcdClient, logger)
		regCtx, regCancel := context.WithTimeout(ctx, cfg.EtcdTimeout)
		defer regCancel()
		if err := registry.Register(regCtx, cfg.Pool, cfg.Rank, addr, int64(cfg.RegistrationTTL.Seconds())); err != nil {
			return fmt.Errorf("failed to register worker: %w", err)
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister worker", "error", err)
			}
		}()
	}

	server := worker.NewServer(w, logger)
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	rpc.RegisterWorkerServer(grpcServer, server)

	serveErr := make(chan error, 1)
	logger.Info("gRPC server listening", "addr", lis.Addr().String())
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()

	// Block until the leader is done with us or a signal arrives
	select {
	case <-server.Done():
		logger.Info("received shutdown from leader")
		grpcServer.GracefulStop()
	case <-ctx.Done():
		// An open work stream would never drain, so stop hard.
		logger.Info("shutting down worker node")
		grpcServer.Stop()
	case err := <-serveErr:
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// advertiseAddr is the address the leader should dial.
func advertiseAddr(cfg *config.Config, bound net.Addr) (string, error) {
	if cfg.AdvertiseAddr != "" {
		return cfg.AdvertiseAddr, nil
	}
	_, port, err := net.SplitHostPort(bound.String())
	if err != nil {
		return "", err
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve host name: %w", err)
	}
	return net.JoinHostPort(host, port), nil
}

// serveNATS runs the worker loop on the rank's subject until shutdown.
func serveNATS(ctx context.Context, cfg *config.Config, w *worker.Worker, logger *slog.Logger) error {
	nc, err := natsbus.Connect(cfg.NatsURL, "quadrature-worker-"+strconv.Itoa(cfg.Rank), logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	ep, err := natsbus.Listen(nc, cfg.NatsSubjectPrefix, cfg.Rank)
	if err != nil {
		return err
	}
	defer ep.Close()

	logger.Info("listening for work", "subject", natsbus.Subject(cfg.NatsSubjectPrefix, cfg.Rank))
	start := time.Now()
	served, err := w.Loop(ctx, ep)
	logger.Info("work loop finished", "served", served, "elapsed", time.Since(start))
	return err
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
