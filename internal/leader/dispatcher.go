// internal/leader/dispatcher.go
package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/metrics"
	"distributed-quadrature/internal/quadrature"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a Dispatcher.
type Options struct {
	Rule      quadrature.Rule
	Integrand quadrature.Integrand
	Samples   int
	// RoundTripTimeout bounds each delegated sample. Zero waits forever.
	RoundTripTimeout time.Duration
	// ShutdownTimeout bounds the shutdown sweep that ends every run.
	ShutdownTimeout time.Duration
}

// Dispatcher is the leader role: it walks the sample indices in order,
// evaluating its own share locally and delegating the rest to workers with
// one blocking round trip each.
type Dispatcher struct {
	opts   Options
	peers  []domain.Peer // peers[k] links to rank k+1
	logger *slog.Logger
	tracer trace.Tracer
}

// runState is the leader context threaded through one run. It is owned by
// the dispatch loop and never shared.
type runState struct {
	accumulator float64
	perRank     []int
	// broken marks ranks whose round trip failed; their link state is unknown.
	broken map[int]bool
}

// NewDispatcher creates a leader for a group of len(peers)+1 processes.
func NewDispatcher(opts Options, peers []domain.Peer, logger *slog.Logger) (*Dispatcher, error) {
	if opts.Samples < 1 {
		return nil, fmt.Errorf("samples must be at least 1, got %d", opts.Samples)
	}
	if opts.Rule == nil {
		return nil, errors.New("quadrature rule is required")
	}
	if opts.Integrand == nil {
		opts.Integrand = quadrature.Pi
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	for k, p := range peers {
		if p == nil {
			return nil, fmt.Errorf("no link to rank %d", k+1)
		}
	}
	return &Dispatcher{
		opts:   opts,
		peers:  peers,
		logger: logger.With("component", "dispatcher"),
		tracer: otel.Tracer("distributed-quadrature-leader"),
	}, nil
}

// Processes returns the process count, leader included.
func (d *Dispatcher) Processes() int {
	return len(d.peers) + 1
}

// Run performs one full pass. Every worker is sent exactly one Shutdown when
// the pass ends, whether it succeeded or not. Once all samples are
// accumulated the result is returned even if the shutdown sweep fails; the
// failure is reported in RunResult.ShutdownErr.
func (d *Dispatcher) Run(ctx context.Context) (*domain.RunResult, error) {
	p := d.Processes()
	ctx, span := d.tracer.Start(ctx, "leader.Run", trace.WithAttributes(
		attribute.Int("run.processes", p),
		attribute.Int("run.samples", d.opts.Samples),
		attribute.String("run.rule", d.opts.Rule.Name()),
	))
	defer span.End()

	start := time.Now()
	state := &runState{perRank: make([]int, p), broken: make(map[int]bool)}

	d.logger.Info("starting dispatch", "processes", p, "samples", d.opts.Samples, "rule", d.opts.Rule.Name())
	runErr := d.dispatch(ctx, state)

	// Workers are stopped even when the run failed or ctx was cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ShutdownTimeout)
	defer cancel()
	shutdownErr := d.shutdown(shutdownCtx, state)

	if runErr != nil {
		err := errors.Join(runErr, shutdownErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, err
	}

	res := &domain.RunResult{
		Estimate:    state.accumulator,
		Processes:   p,
		Samples:     d.opts.Samples,
		Rule:        d.opts.Rule.Name(),
		Elapsed:     time.Since(start),
		PerRank:     state.perRank,
		ShutdownErr: shutdownErr,
	}
	span.SetAttributes(attribute.Float64("run.estimate", res.Estimate))
	if shutdownErr != nil {
		span.RecordError(shutdownErr)
		d.logger.Warn("estimate complete but not every worker was shut down", "error", shutdownErr)
	}
	d.logger.Info("dispatch complete", "estimate", res.Estimate, "abs_error", math.Abs(res.Estimate-math.Pi), "elapsed", res.Elapsed)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, state *runState) error {
	p := d.Processes()
	for i := 0; i < d.opts.Samples; i++ {
		owner := domain.Owner(i, p)

		var y float64
		if owner == domain.LeaderRank {
			y = quadrature.Contribution(d.opts.Rule, d.opts.Integrand, i, d.opts.Samples)
		} else {
			var err error
			y, err = d.roundTrip(ctx, owner, i)
			if err != nil {
				state.broken[owner] = true
				return err
			}
		}

		state.accumulator += y
		state.perRank[owner]++
		metrics.SamplesTotal.WithLabelValues(strconv.Itoa(owner)).Inc()
	}
	return nil
}

// roundTrip sends sample i to its owner and blocks for the reply.
func (d *Dispatcher) roundTrip(ctx context.Context, rank, i int) (float64, error) {
	midpoint := domain.Midpoint(i, d.opts.Samples)
	ctx, span := d.tracer.Start(ctx, "leader.RoundTrip", trace.WithAttributes(
		attribute.Int("sample.index", i),
		attribute.Int("worker.rank", rank),
		attribute.Float64("work.midpoint", midpoint),
	))
	defer span.End()

	rtCtx := ctx
	if d.opts.RoundTripTimeout > 0 {
		var cancel context.CancelFunc
		rtCtx, cancel = context.WithTimeout(ctx, d.opts.RoundTripTimeout)
		defer cancel()
	}

	peer := d.peers[rank-1]
	start := time.Now()

	y, err := func() (float64, error) {
		if err := peer.Send(rtCtx, domain.Work{Midpoint: midpoint}); err != nil {
			return 0, err
		}
		return peer.Recv(rtCtx)
	}()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrRoundTripTimeout, d.opts.RoundTripTimeout)
		}
		err = fmt.Errorf("sample %d on rank %d: %w", i, rank, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "round trip failed")
		d.logger.Error("round trip failed", "sample", i, "rank", rank, "error", err)
		return 0, err
	}

	if math.IsNaN(y) || y < 0 {
		err := fmt.Errorf("sample %d on rank %d: %w: contribution %v", i, rank, domain.ErrMalformedMessage, y)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad contribution")
		return 0, err
	}

	metrics.RoundTripSeconds.WithLabelValues(strconv.Itoa(rank)).Observe(time.Since(start).Seconds())
	return y, nil
}

// shutdown sends one Shutdown to every worker, in rank order, and closes the
// links. Failures are collected so every reachable worker is still stopped.
//
// A link whose round trip failed may have a reply still in flight that nobody
// will read, so it is closed before its Shutdown is sent. On a local link
// that unblocks the worker at once; on NATS the Shutdown still goes out.
func (d *Dispatcher) shutdown(ctx context.Context, state *runState) error {
	var errs []error
	for k, peer := range d.peers {
		rank := k + 1
		if state.broken[rank] {
			if err := peer.Close(); err != nil {
				d.logger.Debug("failed to close broken link", "rank", rank, "error", err)
			}
		}
		if err := peer.Send(ctx, domain.Shutdown{}); err != nil {
			d.logger.Warn("failed to shut down worker", "rank", rank, "error", err)
			errs = append(errs, fmt.Errorf("shutdown rank %d: %w", rank, err))
		}
		if err := peer.Close(); err != nil {
			d.logger.Debug("failed to close link", "rank", rank, "error", err)
		}
	}
	return errors.Join(errs...)
}
