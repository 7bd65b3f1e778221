// cmd/leader/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"distributed-quadrature/internal/config"
	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/infra/etcd"
	"distributed-quadrature/internal/infra/memory"
	"distributed-quadrature/internal/quadrature"
	"distributed-quadrature/internal/tracing"
	"distributed-quadrature/internal/transport/natsbus"
	"distributed-quadrature/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run returns the process exit code so deferred cleanup happens before exit.
// The report goes to stdout; logs go to stderr.
func run(args []string, stdout io.Writer) int {
	// 1. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Load configuration
	fs := config.Flags("leader")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logger.Error("failed to parse flags", "error", err)
		return 2
	}
	cfg, err := config.Load(fs)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}
	if err := cfg.ValidateLeader(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}
	rule, err := quadrature.RuleByName(cfg.Rule)
	if err != nil {
		logger.Error("unknown rule", "error", err)
		return 1
	}

	tracerShutdown, err := tracing.InitTracer("distributed-quadrature-leader", cfg.TracingEnabled, os.Stderr)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		return 1
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 4. Run history and pool lock: etcd when configured, in-process otherwise
	var (
		repo   domain.RunRepository = memory.NewRunRepository()
		locker domain.Locker        = memory.NewLocker()
		links  linkBuilder
	)
	etcdClient, err := connectEtcd(cfg)
	if err != nil {
		logger.Error("failed to create etcd client", "error", err)
		return 1
	}
	if etcdClient != nil {
		defer etcdClient.Close()
		repo = etcd.NewEtcdRunRepository(etcdClient, logger)
		locker = etcd.NewEtcdLocker(etcdClient)
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)
	}

	// 5. Worker links
	switch cfg.Transport {
	case config.TransportLocal:
		links = localLinks(cfg, rule, logger)
	case config.TransportGRPC:
		links = grpcLinks(cfg, etcdClient, logger)
	case config.TransportNATS:
		nc, err := natsbus.Connect(cfg.NatsURL, "quadrature-leader", logger)
		if err != nil {
			logger.Error("failed to connect to nats", "error", err)
			return 1
		}
		defer nc.Close()
		links = natsLinks(cfg, nc)
	}

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(cfg.MetricsListenAddr, logger)
	}

	// 6. Run
	service := usecase.NewRunService(repo, locker, cfg.Pool, logger)
	record, err := service.Execute(rootCtx, usecase.RunSpec{
		Processes: cfg.Processes,
		Samples:   cfg.Samples,
		Rule:      rule.Name(),
		Transport: cfg.Transport,
	}, newDispatcherFactory(cfg, rule, links, logger))
	if err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}

	if record.ShutdownError != "" {
		logger.Warn("some workers were not shut down", "error", record.ShutdownError)
	}
	report(stdout, record)
	return 0
}

func connectEtcd(cfg *config.Config) (*clientv3.Client, error) {
	if !cfg.UsesEtcd() {
		return nil, nil
	}
	return etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
}

// report writes the process count, the estimate and the runtime.
func report(w io.Writer, rec *domain.RunRecord) {
	fmt.Fprintf(w, "processes: %d\n", rec.Processes)
	fmt.Fprintf(w, "pi estimate: %.15f\n", rec.Estimate)
	fmt.Fprintf(w, "runtime: %.6f seconds\n", rec.EndTime.Sub(rec.StartTime).Seconds())
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
		log.Printf("Received signal %v. Cancelling run...", sig)
		cancel()
	}()
}
