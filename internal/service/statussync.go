package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/adapter/otel"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/port/cache"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/port/genprovider"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/resilience"
)

// ReasonProviderLost is recorded when the provider no longer knows the task.
const ReasonProviderLost = "provider task not found"

// StatusChecker re-syncs one job's status from its provider.
type StatusChecker interface {
	CheckStatus(ctx context.Context, jobID int64) error
}

// JobFailer performs the fail-and-refund transition for one job.
type JobFailer interface {
	Fail(ctx context.Context, jobID int64, reason string) (*job.FailOutcome, error)
}

// StatusSyncer pulls task state from generation providers and applies the
// resulting job transitions. It is the single place where jobs leave
// processing, so events and refund metrics are emitted consistently.
type StatusSyncer struct {
	store     database.JobStore
	providers map[string]genprovider.Provider
	queue     messagequeue.Queue
	cache     cache.Cache
	cacheTTL  time.Duration
	timeout   time.Duration
	limiter   *resilience.Limiter
	metrics   *otel.Metrics
}

// NewStatusSyncer creates a syncer over the given providers, keyed by Name().
// timeout bounds each provider status call.
func NewStatusSyncer(store database.JobStore, timeout time.Duration, providers ...genprovider.Provider) *StatusSyncer {
	m := make(map[string]genprovider.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &StatusSyncer{
		store:     store,
		providers: m,
		timeout:   timeout,
	}
}

// SetQueue enables jobs.status events.
func (s *StatusSyncer) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetCache enables short-lived caching of in-flight provider results.
func (s *StatusSyncer) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// SetLimiter caps concurrent provider calls, shared with job submission.
func (s *StatusSyncer) SetLimiter(l *resilience.Limiter) { s.limiter = l }

// callProvider runs fn under the provider concurrency limit.
func (s *StatusSyncer) callProvider(ctx context.Context, fn func() error) error {
	return s.limiter.Run(ctx, fn)
}

// SetMetrics attaches metric instruments.
func (s *StatusSyncer) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Provider returns the provider registered under name.
func (s *StatusSyncer) Provider(name string) (genprovider.Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// CheckStatus loads the job visible to the tenant in ctx, asks its provider
// for the task state and completes or fails the job accordingly. Jobs that
// are already terminal or not yet handed to a provider are left alone.
func (s *StatusSyncer) CheckStatus(ctx context.Context, jobID int64) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %d: %w", jobID, err)
	}
	if j.Status.Terminal() || j.ProviderTaskID == "" {
		return nil
	}

	p, ok := s.providers[j.Provider]
	if !ok {
		return fmt.Errorf("job %d: unknown provider %q", j.ID, j.Provider)
	}

	res, err := s.fetchStatus(ctx, p, j.ProviderTaskID)
	if errors.Is(err, genprovider.ErrTaskNotFound) {
		_, err = s.Fail(ctx, j.ID, ReasonProviderLost)
		return err
	}
	if err != nil {
		return fmt.Errorf("job %d status: %w", j.ID, err)
	}

	switch res.State {
	case genprovider.StateSucceeded:
		return s.complete(ctx, j, res.ResultURL)
	case genprovider.StateFailed:
		reason := res.Error
		if reason == "" {
			reason = "provider reported failure"
		}
		_, err := s.Fail(ctx, j.ID, reason)
		return err
	default:
		return nil
	}
}

func (s *StatusSyncer) fetchStatus(ctx context.Context, p genprovider.Provider, taskID string) (*genprovider.Result, error) {
	key := "status:" + p.Name() + ":" + taskID
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var r genprovider.Result
			if json.Unmarshal(data, &r) == nil {
				return &r, nil
			}
		}
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	var res *genprovider.Result
	err := s.callProvider(callCtx, func() error {
		var err error
		res, err = p.Status(callCtx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Only in-flight results are cached; a terminal result is applied once
	// and the job itself then short-circuits further checks.
	if s.cache != nil && !res.State.Done() {
		if data, err := json.Marshal(res); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.DebugContext(ctx, "status cache set failed", "key", key, "error", err)
			}
		}
	}
	return res, nil
}

func (s *StatusSyncer) complete(ctx context.Context, j *job.Job, resultURL string) error {
	ok, err := s.store.CompleteJob(ctx, j.ID, resultURL)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", j.ID, err)
	}
	if !ok {
		return nil
	}
	slog.InfoContext(ctx, "job completed", "job_id", j.ID)
	s.publish(ctx, messagequeue.JobStatusPayload{
		JobID:     j.ID,
		TenantID:  j.TenantID,
		UserID:    j.UserID,
		Status:    string(job.StatusSuccess),
		ResultURL: resultURL,
	})
	return nil
}

// Fail moves a processing job to failed and refunds its cost. Repeated or
// concurrent calls for the same job refund at most once; callers that lose
// the race get an outcome with Transitioned == false.
func (s *StatusSyncer) Fail(ctx context.Context, jobID int64, reason string) (*job.FailOutcome, error) {
	out, err := s.store.FailJob(ctx, jobID, reason)
	if err != nil {
		return nil, fmt.Errorf("fail job %d: %w", jobID, err)
	}
	if !out.Transitioned {
		return out, nil
	}

	slog.InfoContext(ctx, "job failed", "job_id", jobID, "reason", reason, "refunded", out.Refunded)
	if s.metrics != nil && out.Refunded > 0 {
		s.metrics.Refunds.Add(ctx, 1)
		s.metrics.RefundAmount.Add(ctx, out.Refunded)
	}
	s.publish(ctx, messagequeue.JobStatusPayload{
		JobID:         out.Job.ID,
		TenantID:      out.Job.TenantID,
		UserID:        out.Job.UserID,
		Status:        string(job.StatusFailed),
		FailureReason: reason,
		Refunded:      out.Refunded,
	})
	return out, nil
}

func (s *StatusSyncer) publish(ctx context.Context, p messagequeue.JobStatusPayload) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.ErrorContext(ctx, "marshal job status", "job_id", p.JobID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectJobStatus, data); err != nil {
		slog.WarnContext(ctx, "publish job status", "job_id", p.JobID, "error", err)
	}
}
