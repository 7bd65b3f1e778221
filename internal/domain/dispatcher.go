// internal/domain/dispatcher.go
package domain

import (
	"context"
	"time"
)

// RunResult is what a completed dispatch reports.
type RunResult struct {
	Estimate  float64
	Processes int
	Samples   int
	Rule      string
	Elapsed   time.Duration
	// PerRank counts the sample indices each rank evaluated.
	PerRank []int
	// ShutdownErr is set when the estimate is complete but some worker could
	// not be sent its shutdown.
	ShutdownErr error
}

// Dispatcher drives one full pass over the sample indices.
type Dispatcher interface {
	Run(ctx context.Context) (*RunResult, error)
}
