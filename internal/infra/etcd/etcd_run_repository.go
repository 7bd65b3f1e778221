// internal/infra/etcd/etcd_run_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"distributed-quadrature/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	RunHistoryDir = "/quadrature/runs/"
)

type etcdRunRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdRunRepository creates a run history repository backed by etcd.
func NewEtcdRunRepository(client *clientv3.Client, logger *slog.Logger) domain.RunRepository {
	return &etcdRunRepository{
		client: client,
		logger: logger.With("component", "run-repository"),
		tracer: otel.Tracer("distributed-quadrature-etcd-run-repo"),
	}
}

// RunKey is the key a run record is stored under.
func RunKey(id string) string {
	return path.Join(RunHistoryDir, id)
}

// Save persists a run record. A record is saved once when the run starts and
// again when it ends; both writes go to the same key.
func (r *etcdRunRepository) Save(ctx context.Context, record *domain.RunRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRun")
	defer span.End()

	if err := record.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal run record")
		return fmt.Errorf("failed to marshal run record %s to JSON: %w", record.ID, err)
	}

	key := RunKey(record.ID)
	span.SetAttributes(
		attribute.String("run.id", record.ID),
		attribute.String("run.status", string(record.Status)),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put run record to etcd")
		return fmt.Errorf("failed to save run record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// Get retrieves a single run record.
func (r *etcdRunRepository) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	resp, err := r.client.Get(ctx, RunKey(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run record from etcd")
		return nil, fmt.Errorf("failed to get run record %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrRunNotFound
	}

	var record domain.RunRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal run record")
		return nil, fmt.Errorf("failed to unmarshal run record %s from JSON: %w", id, err)
	}
	return &record, nil
}

// List retrieves run records newest first.
func (r *etcdRunRepository) List(ctx context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRuns")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	resp, err := r.client.Get(ctx, RunHistoryDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list run records from etcd")
		return nil, fmt.Errorf("failed to list run records from etcd: %w", err)
	}

	// Etcd limits count keys, not offsets, so pages are cut client side.
	start, end := domain.PageBounds(len(resp.Kvs), page, pageSize)
	records := make([]*domain.RunRecord, 0, end-start)
	for _, kv := range resp.Kvs[start:end] {
		var record domain.RunRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal run record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
