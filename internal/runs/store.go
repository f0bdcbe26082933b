package runs

import (
	"context"
	"errors"
	"time"
)

// Run states
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when no record exists for a run id
var ErrNotFound = errors.New("run not found")

// Record is the stored outcome of one prediction
type Record struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	Seed       *int64     `json:"seed,omitempty"`
	Outputs    []string   `json:"outputs,omitempty"`
	Dropped    int        `json:"dropped,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists run records
type Store interface {
	// Put creates or replaces the record for rec.RunID
	Put(ctx context.Context, rec Record) error

	// Get returns the record for runID or ErrNotFound
	Get(ctx context.Context, runID string) (*Record, error)
}
