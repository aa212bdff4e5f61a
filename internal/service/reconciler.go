package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/SiteKeeper/internal/adapter/otel"
	"github.com/Strob0t/SiteKeeper/internal/config"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Candidates int           `json:"candidates"`
	Checked    int           `json:"checked"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// TimeoutReport summarizes one timeout pass.
type TimeoutReport struct {
	Candidates  int           `json:"candidates"`
	TimedOut    int           `json:"timed_out"`
	Refunded    int           `json:"refunded"`
	RefundTotal int64         `json:"refund_total"`
	Errors      int           `json:"errors"`
	Duration    time.Duration `json:"duration"`
}

// JobReconciler drives in-flight jobs to a terminal state. Two independent
// loops run on tickers: the sync loop re-checks every processing job with
// its provider, the timeout loop fails and refunds jobs that have been
// processing for longer than the configured threshold.
//
// Candidate jobs are loaded with a cross-tenant read; every per-job step
// then runs with that job's own tenant installed. Coordination between
// instances relies solely on the store's row lock and conditional update.
type JobReconciler struct {
	store   database.JobStore
	checker StatusChecker
	failer  JobFailer
	cfg     config.Reconciler
	metrics *otel.Metrics
	now     func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewJobReconciler creates a reconciler. checker and failer are usually the
// same *StatusSyncer.
func NewJobReconciler(store database.JobStore, checker StatusChecker, failer JobFailer, cfg config.Reconciler) *JobReconciler {
	return &JobReconciler{
		store:   store,
		checker: checker,
		failer:  failer,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetMetrics attaches metric instruments.
func (r *JobReconciler) SetMetrics(m *otel.Metrics) { r.metrics = m }

// Start launches the sync and timeout loops. They stop when ctx is cancelled
// or Stop is called.
func (r *JobReconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.loop(ctx, "sync", r.cfg.SyncInterval, func(ctx context.Context) {
		if _, err := r.SyncPass(ctx); err != nil {
			slog.Error("reconciler: sync pass failed", "error", err)
		}
	})
	r.loop(ctx, "timeout", r.cfg.TimeoutInterval, func(ctx context.Context) {
		if _, err := r.TimeoutPass(ctx); err != nil {
			slog.Error("reconciler: timeout pass failed", "error", err)
		}
	})
	slog.Info("reconciler started",
		"sync_interval", r.cfg.SyncInterval,
		"timeout_interval", r.cfg.TimeoutInterval,
		"timeout_threshold", r.cfg.TimeoutThreshold,
	)
}

func (r *JobReconciler) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context)) {
	if interval <= 0 {
		slog.Warn("reconciler: loop disabled", "loop", name)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pass(ctx)
			}
		}
	}()
}

// Stop cancels both loops and waits for an in-progress pass to return.
func (r *JobReconciler) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// SyncPass checks every processing job (up to the batch size) with its
// provider. Per-job failures are logged and counted, never returned.
func (r *JobReconciler) SyncPass(ctx context.Context) (SyncReport, error) {
	start := r.now()
	ctx, span := otel.StartPassSpan(ctx, "sync")
	defer span.End()

	var rep SyncReport
	jobs, err := r.store.ListProcessingJobs(tenantctx.IgnoreTenant(ctx), r.cfg.SyncBatchSize)
	if err != nil {
		return rep, fmt.Errorf("list processing jobs: %w", err)
	}
	rep.Candidates = len(jobs)

	var mu sync.Mutex
	forEach(jobs, r.cfg.SyncConcurrency, func(j job.Job) {
		err := r.runScoped(ctx, "sync", j, func(ctx context.Context) error {
			return r.checker.CheckStatus(ctx, j.ID)
		})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			rep.Errors++
			return
		}
		rep.Checked++
	})

	rep.Duration = r.now().Sub(start)
	r.recordPass(ctx, "sync", rep.Duration)
	if r.metrics != nil {
		r.metrics.JobsSynced.Add(ctx, int64(rep.Checked))
		r.metrics.SyncErrors.Add(ctx, int64(rep.Errors))
	}
	if rep.Candidates > 0 {
		slog.Debug("reconciler: sync pass done", "candidates", rep.Candidates, "checked", rep.Checked, "errors", rep.Errors)
	}
	return rep, nil
}

// TimeoutPass fails every job that has been processing longer than the
// threshold. Each job first gets a best-effort status sync, so a job that
// actually finished at the provider is completed rather than refunded.
func (r *JobReconciler) TimeoutPass(ctx context.Context) (TimeoutReport, error) {
	start := r.now()
	ctx, span := otel.StartPassSpan(ctx, "timeout")
	defer span.End()

	var rep TimeoutReport
	cutoff := r.now().Add(-r.cfg.TimeoutThreshold)
	jobs, err := r.store.ListStuckJobs(tenantctx.IgnoreTenant(ctx), cutoff, r.cfg.TimeoutBatchSize)
	if err != nil {
		return rep, fmt.Errorf("list stuck jobs: %w", err)
	}
	rep.Candidates = len(jobs)

	var mu sync.Mutex
	forEach(jobs, r.cfg.TimeoutConcurrency, func(j job.Job) {
		var out *job.FailOutcome
		err := r.runScoped(ctx, "timeout", j, func(ctx context.Context) error {
			if err := r.checkQuietly(ctx, j.ID); err != nil {
				slog.DebugContext(ctx, "reconciler: pre-timeout sync failed", "job_id", j.ID, "error", err)
			}
			var err error
			out, err = r.failer.Fail(ctx, j.ID, job.ReasonTimeout)
			return err
		})
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			rep.Errors++
		case out != nil && out.Transitioned:
			rep.TimedOut++
			if out.Refunded > 0 {
				rep.Refunded++
				rep.RefundTotal += out.Refunded
			}
		}
	})

	rep.Duration = r.now().Sub(start)
	r.recordPass(ctx, "timeout", rep.Duration)
	if r.metrics != nil {
		r.metrics.JobsTimedOut.Add(ctx, int64(rep.TimedOut))
		r.metrics.SyncErrors.Add(ctx, int64(rep.Errors))
	}
	if rep.TimedOut > 0 || rep.Errors > 0 {
		slog.Info("reconciler: timeout pass done",
			"candidates", rep.Candidates,
			"timed_out", rep.TimedOut,
			"refund_total", rep.RefundTotal,
			"errors", rep.Errors,
		)
	}
	return rep, nil
}

// forEach runs fn for every job, at most limit at a time, and waits for all
// of them. A limit below 1 means unbounded.
func forEach(jobs []job.Job, limit int, fn func(job.Job)) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range jobs {
		j := jobs[i]
		g.Go(func() error {
			fn(j)
			return nil
		})
	}
	_ = g.Wait()
}

// runScoped runs fn with the job's tenant installed. A panic in fn is
// recovered and reported as an error so one bad job cannot stop the pass.
func (r *JobReconciler) runScoped(ctx context.Context, op string, j job.Job, fn func(context.Context) error) error {
	return tenantctx.Scope(ctx, j.TenantID, func(ctx context.Context) (err error) {
		ctx, span := otel.StartJobSpan(ctx, op, j.ID, j.TenantID)
		defer span.End()

		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				slog.ErrorContext(ctx, "reconciler: job panicked", "op", op, "job_id", j.ID, "panic", p)
			}
		}()

		if err := fn(ctx); err != nil {
			slog.WarnContext(ctx, "reconciler: job failed", "op", op, "job_id", j.ID, "error", err)
			return err
		}
		return nil
	})
}

// checkQuietly runs a status check under the status timeout, turning a
// panic into an error.
func (r *JobReconciler) checkQuietly(ctx context.Context, jobID int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if r.cfg.StatusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.StatusTimeout)
		defer cancel()
	}
	return r.checker.CheckStatus(ctx, jobID)
}

func (r *JobReconciler) recordPass(ctx context.Context, pass string, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.PassDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("pass", pass)))
}
