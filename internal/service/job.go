package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/port/genprovider"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SubmitRequest is the caller input for a new generation job.
type SubmitRequest struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

// JobService launches generation jobs and exposes the job and balance
// read paths. All calls act on the tenant installed in ctx.
type JobService struct {
	store  database.Store
	syncer *StatusSyncer
	queue  messagequeue.Queue
	prices map[string]int64
}

// NewJobService creates a job service. prices maps provider names to the
// credit cost of one job.
func NewJobService(store database.Store, syncer *StatusSyncer, queue messagequeue.Queue, prices map[string]int64) *JobService {
	return &JobService{
		store:  store,
		syncer: syncer,
		queue:  queue,
		prices: prices,
	}
}

// Submit debits the job cost, records the job and hands it to the provider.
// When the provider rejects the task the job is failed and refunded right
// away and returned in that state.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	p, ok := s.syncer.Provider(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, req.Provider)
	}
	create := job.CreateRequest{
		UserID:   req.UserID,
		Provider: p.Name(),
		Prompt:   req.Prompt,
		Cost:     s.prices[p.Name()],
	}
	if err := create.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	j, _, err := s.store.CreateJob(ctx, create)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The debit is committed; finish the hand-off even if the caller goes away.
	ctx = tenantctx.Detach(ctx)

	var taskID string
	err = s.syncer.callProvider(ctx, func() error {
		var err error
		taskID, err = p.Submit(ctx, genprovider.SubmitRequest{
			JobID:    j.ID,
			TenantID: j.TenantID,
			Prompt:   j.Prompt,
		})
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "provider rejected job", "job_id", j.ID, "provider", p.Name(), "error", err)
		out, ferr := s.syncer.Fail(ctx, j.ID, "submit failed: "+err.Error())
		if ferr != nil {
			return nil, ferr
		}
		return &out.Job, nil
	}

	if err := s.store.SetProviderTask(ctx, j.ID, taskID); err != nil {
		// The timeout loop refunds the job if the task id never lands.
		return nil, fmt.Errorf("record provider task: %w", err)
	}
	j.ProviderTaskID = taskID

	s.publishSubmitted(ctx, j)
	return j, nil
}

func (s *JobService) publishSubmitted(ctx context.Context, j *job.Job) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.JobSubmittedPayload{
		JobID:          j.ID,
		TenantID:       j.TenantID,
		Provider:       j.Provider,
		ProviderTaskID: j.ProviderTaskID,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectJobSubmitted, data); err != nil {
		slog.WarnContext(ctx, "publish job submitted", "job_id", j.ID, "error", err)
	}
}

// Get returns a job of the current tenant.
func (s *JobService) Get(ctx context.Context, id int64) (*job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns the most recent jobs of a user.
func (s *JobService) List(ctx context.Context, userID int64, limit int) ([]job.Job, error) {
	return s.store.ListJobs(ctx, userID, clampLimit(limit))
}

// Sync re-checks one job with its provider and returns its current state.
func (s *JobService) Sync(ctx context.Context, id int64) (*job.Job, error) {
	if err := s.syncer.CheckStatus(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		slog.WarnContext(ctx, "on-demand sync failed", "job_id", id, "error", err)
	}
	return s.store.GetJob(ctx, id)
}

// Balance returns the user with its current balance.
func (s *JobService) Balance(ctx context.Context, userID int64) (*user.User, error) {
	return s.store.GetUser(ctx, userID)
}

// Ledger returns the most recent balance movements of a user.
func (s *JobService) Ledger(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	return s.store.ListLedger(ctx, userID, clampLimit(limit))
}

// Recharge credits a user's balance.
func (s *JobService) Recharge(ctx context.Context, userID, amount int64, remark string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return s.store.Recharge(ctx, userID, amount, remark)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
