// Package job defines the asynchronous media-generation job entity.
package job

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle state of a generation job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// ReasonTimeout is the failure reason written by the timeout reconciler.
const ReasonTimeout = "generation timed out"

// MaxPromptLength bounds the stored prompt.
const MaxPromptLength = 8000

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransition reports whether a job may move from s to next. Only
// processing jobs move, and only into a terminal state.
func (s Status) CanTransition(next Status) bool {
	return s == StatusProcessing && next.Terminal()
}

// Job is a generation job launched on behalf of a tenant user. Cost is
// debited from the user when the job is created.
type Job struct {
	ID             int64     `json:"id"`
	TenantID       int64     `json:"tenant_id"`
	UserID         int64     `json:"user_id"`
	Provider       string    `json:"provider"`
	ProviderTaskID string    `json:"provider_task_id,omitempty"`
	Prompt         string    `json:"prompt"`
	Status         Status    `json:"status"`
	Cost           int64     `json:"cost"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	ResultURL      string    `json:"result_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to submit a new job.
type CreateRequest struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
	Cost     int64  `json:"cost"`
}

// Validate checks that the CreateRequest is well formed.
func (r *CreateRequest) Validate() error {
	if r.UserID <= 0 {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.Provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if len(r.Prompt) > MaxPromptLength {
		return errors.New("prompt is too long")
	}
	if r.Cost < 0 {
		return errors.New("cost must not be negative")
	}
	return nil
}

// FailOutcome describes what a fail transition actually did. Transitioned is
// false when the job had already left processing, in which case nothing was
// written.
type FailOutcome struct {
	Transitioned bool  `json:"transitioned"`
	Refunded     int64 `json:"refunded"`
	BalanceAfter int64 `json:"balance_after"`
	Job          Job   `json:"job"`
}

// TenantStats aggregates job counts for one tenant.
type TenantStats struct {
	TenantID   int64 `json:"tenant_id"`
	Processing int64 `json:"processing"`
	Success    int64 `json:"success"`
	Failed     int64 `json:"failed"`
	CostTotal  int64 `json:"cost_total"`
}
