// internal/worker/worker.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/metrics"
	"distributed-quadrature/internal/quadrature"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Worker evaluates work items for one non-leader rank.
type Worker struct {
	rank      int
	rule      quadrature.Rule
	integrand quadrature.Integrand
	width     float64
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewWorker creates the worker for rank. samples must match the leader's so
// that a received midpoint maps to the same interval width.
func NewWorker(rank int, rule quadrature.Rule, integrand quadrature.Integrand, samples int, logger *slog.Logger) *Worker {
	return &Worker{
		rank:      rank,
		rule:      rule,
		integrand: integrand,
		width:     domain.Width(samples),
		logger:    logger.With("component", "worker", "rank", rank),
		tracer:    otel.Tracer("distributed-quadrature-worker"),
	}
}

// Rank returns the worker's rank.
func (w *Worker) Rank() int { return w.rank }

// Loop receives messages from ep until a Shutdown arrives. Each Work item is
// answered with the contribution of the interval centred on its midpoint.
// After a Shutdown no further call is made on ep. It returns the number of
// work items served.
func (w *Worker) Loop(ctx context.Context, ep domain.Endpoint) (int, error) {
	served := 0
	start := time.Now()
	rankLabel := strconv.Itoa(w.rank)
	for {
		msg, err := ep.Recv(ctx)
		if err != nil {
			return served, fmt.Errorf("worker %d receive: %w", w.rank, err)
		}

		switch m := msg.(type) {
		case domain.Shutdown:
			w.logger.Info("received shutdown", "served", served, "elapsed", time.Since(start))
			return served, nil
		case domain.Work:
			y := w.evaluate(ctx, m)
			if err := ep.Send(ctx, y); err != nil {
				return served, fmt.Errorf("worker %d send: %w", w.rank, err)
			}
			served++
			metrics.WorkItemsServed.WithLabelValues(rankLabel).Inc()
		default:
			return served, fmt.Errorf("worker %d: %w: %T", w.rank, domain.ErrMalformedMessage, msg)
		}
	}
}

func (w *Worker) evaluate(ctx context.Context, work domain.Work) float64 {
	_, span := w.tracer.Start(ctx, "worker.Evaluate",
		trace.WithAttributes(
			attribute.Int("worker.rank", w.rank),
			attribute.Float64("work.midpoint", work.Midpoint),
		))
	defer span.End()

	y := quadrature.ContributionAt(w.rule, w.integrand, work.Midpoint, w.width)
	w.logger.Debug("evaluated work item", "midpoint", work.Midpoint, "contribution", y)
	return y
}
