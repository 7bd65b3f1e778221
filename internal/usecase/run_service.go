package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunSpec describes the run a leader is about to drive.
type RunSpec struct {
	Processes int
	Samples   int
	Rule      string
	Transport string
}

// DispatcherFactory builds the dispatcher for a run once the pool lock is held,
// so no worker link is opened by a leader that is not allowed to use it.
type DispatcherFactory func(ctx context.Context) (domain.Dispatcher, error)

// RunService drives dispatch runs under the pool lock and keeps their history.
type RunService struct {
	repo   domain.RunRepository
	locker domain.Locker
	pool   string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRunService creates a new RunService instance.
func NewRunService(repo domain.RunRepository, locker domain.Locker, pool string, logger *slog.Logger) *RunService {
	return &RunService{
		repo:   repo,
		locker: locker,
		pool:   pool,
		logger: logger.With("component", "run-service", "pool", pool),
		tracer: otel.Tracer("distributed-quadrature-usecase"),
	}
}

// Execute takes the pool lock, builds a dispatcher and runs it, saving a
// record before and after. The returned record is non-nil whenever the run
// was started.
func (s *RunService) Execute(ctx context.Context, spec RunSpec, build DispatcherFactory) (*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Execute", trace.WithAttributes(
		attribute.Int("run.processes", spec.Processes),
		attribute.Int("run.samples", spec.Samples),
		attribute.String("run.transport", spec.Transport),
	))
	defer span.End()

	lock, err := s.locker.Lock(ctx, s.pool)
	if err != nil {
		if errors.Is(err, domain.ErrRunLocked) {
			metrics.RunsTotal.WithLabelValues("locked").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to lock worker pool")
		return nil, err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			s.logger.Error("failed to release pool lock", "error", err)
		}
	}()

	record := &domain.RunRecord{
		ID:        uuid.NewString(),
		Pool:      s.pool,
		Processes: spec.Processes,
		Samples:   spec.Samples,
		Rule:      spec.Rule,
		Transport: spec.Transport,
		StartTime: time.Now(),
		Status:    domain.RunStatusRunning,
	}
	span.SetAttributes(attribute.String("run.id", record.ID))
	logger := s.logger.With("run_id", record.ID)

	// A history write failure does not stop the run.
	if err := s.repo.Save(ctx, record); err != nil {
		logger.Error("failed to save initial run record", "error", err)
		span.RecordError(err)
	}

	runErr := func() error {
		d, err := build(ctx)
		if err != nil {
			return err
		}
		res, err := d.Run(ctx)
		if err != nil {
			return err
		}
		record.Estimate = res.Estimate
		record.AbsError = math.Abs(res.Estimate - math.Pi)
		record.PerRank = res.PerRank
		record.Processes = res.Processes
		if res.ShutdownErr != nil {
			record.ShutdownError = res.ShutdownErr.Error()
			metrics.RunsTotal.WithLabelValues("shutdown_incomplete").Inc()
		}
		return nil
	}()

	record.EndTime = time.Now()
	if runErr != nil {
		record.Status = domain.RunStatusFailed
		record.Error = runErr.Error()
		metrics.RunsTotal.WithLabelValues(string(domain.RunStatusFailed)).Inc()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
		logger.Error("run failed", "error", runErr)
	} else {
		record.Status = domain.RunStatusSuccess
		metrics.RunsTotal.WithLabelValues(string(domain.RunStatusSuccess)).Inc()
		metrics.LastEstimate.Set(record.Estimate)
		span.SetStatus(codes.Ok, "run complete")
	}

	if err := s.repo.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("failed to save final run record", "error", err)
		span.RecordError(err)
	}
	return record, runErr
}

// ListHistory lists past runs, newest first.
func (s *RunService) ListHistory(ctx context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListHistory")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	records, err := s.repo.List(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list run history from repository")
	}
	return records, err
}

// Get returns a single run.
func (s *RunService) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.Get")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	record, err := s.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run from repository")
	}
	return record, err
}
