// Package genprovider defines the port for external media-generation
// providers.
package genprovider

import (
	"context"
	"errors"
)

// ErrTaskNotFound is returned by Status when the provider no longer knows
// the task.
var ErrTaskNotFound = errors.New("genprovider: task not found")

// State is the provider-side state of a generation task.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the provider has finished the task.
func (s State) Done() bool {
	return s == StateSucceeded || s == StateFailed
}

// SubmitRequest is a generation request handed to the provider.
type SubmitRequest struct {
	JobID    int64  `json:"job_id"`
	TenantID int64  `json:"tenant_id"`
	Prompt   string `json:"prompt"`
}

// Result is the provider's view of a task.
type Result struct {
	TaskID    string `json:"task_id"`
	State     State  `json:"state"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Provider submits generation tasks and reports their state.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (taskID string, err error)
	Status(ctx context.Context, taskID string) (*Result, error)
}
