// internal/domain/run.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when no record exists for a run ID.
var ErrRunNotFound = errors.New("run not found")

// RunStatus defines the outcome of a dispatch run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RunRecord is the persisted history entry for one dispatch run.
type RunRecord struct {
	ID        string    `json:"id"`
	Pool      string    `json:"pool"`
	Processes int       `json:"processes"`
	Samples   int       `json:"samples"`
	Rule      string    `json:"rule"`
	Transport string    `json:"transport"`
	Estimate  float64   `json:"estimate"`
	AbsError  float64   `json:"abs_error"`
	PerRank   []int     `json:"per_rank,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	// ShutdownError is set on a successful run when some worker could not be
	// sent its shutdown.
	ShutdownError string `json:"shutdown_error,omitempty"`
}

// Validate checks if the run record is valid.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run record ID cannot be empty")
	}
	if r.Processes < 1 {
		return fmt.Errorf("run record processes must be at least 1, got %d", r.Processes)
	}
	if r.Samples < 1 {
		return fmt.Errorf("run record samples must be at least 1, got %d", r.Samples)
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("run record start time cannot be zero")
	}
	if r.Status == "" {
		return fmt.Errorf("run record status cannot be empty")
	}
	return nil
}

// RunRepository persists and retrieves run records.
type RunRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns records newest first; page is 1-based.
	List(ctx context.Context, page, pageSize int) ([]*RunRecord, error)
}

// PageBounds returns the slice bounds of a 1-based page over total items.
func PageBounds(total, page, pageSize int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
