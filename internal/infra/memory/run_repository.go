// Package memory holds process-local implementations of the domain
// repositories, used when no etcd cluster is configured.
package memory

import (
	"context"
	"sync"

	"distributed-quadrature/internal/domain"
)

// RunRepository keeps run records in insertion order.
type RunRepository struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.RunRecord
}

// NewRunRepository creates an empty repository.
func NewRunRepository() *RunRepository {
	return &RunRepository{records: make(map[string]domain.RunRecord)}
}

func (r *RunRepository) Save(_ context.Context, record *domain.RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; !ok {
		r.order = append(r.order, record.ID)
	}
	r.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *RunRepository) Get(_ context.Context, id string) (*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return ptr(rec), nil
}

// List returns records newest first.
func (r *RunRepository) List(_ context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, end := domain.PageBounds(len(r.order), page, pageSize)
	out := make([]*domain.RunRecord, 0, end-start)
	for k := start; k < end; k++ {
		id := r.order[len(r.order)-1-k]
		out = append(out, ptr(r.records[id]))
	}
	return out, nil
}

func cloneRecord(rec *domain.RunRecord) domain.RunRecord {
	c := *rec
	c.PerRank = append([]int(nil), rec.PerRank...)
	return c
}

func ptr(rec domain.RunRecord) *domain.RunRecord {
	c := cloneRecord(&rec)
	return &c
}
