package storage

import (
	"context"
	"time"
)

// RunStatus represents the outcome of an agent run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run records one agent invocation: the user message, the final response
// and which tools the agent called along the way.
type Run struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Message    string    `json:"message"`
	Response   string    `json:"response"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	ToolsUsed  []string  `json:"tools_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	DurationMS int64     `json:"duration_ms"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Agent  string
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for run history.
type Store interface {
	// CreateRun inserts a finished run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// DeleteRun removes a run.
	DeleteRun(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
