package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
)

const jobColumns = `id, tenant_id, user_id, provider, provider_task_id, prompt, status, cost, failure_reason, result_url, created_at, updated_at`

func scanJob(row scannable) (job.Job, error) {
	var j job.Job
	err := row.Scan(&j.ID, &j.TenantID, &j.UserID, &j.Provider, &j.ProviderTaskID, &j.Prompt,
		&j.Status, &j.Cost, &j.FailureReason, &j.ResultURL, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func (s *Store) queryJobs(ctx context.Context, sql string, args ...any) ([]job.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return orEmpty(jobs), rows.Err()
}

// --- Generation jobs ---

func (s *Store) CreateJob(ctx context.Context, req job.CreateRequest) (*job.Job, *ledger.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	where, args := s.gate.Where(ctx, tableUsers, []string{"id = $2", "balance >= $1"}, req.Cost, req.UserID)
	var userTenant, balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $1, updated_at = now()`+where+`
		 RETURNING tenant_id, balance`, args...,
	).Scan(&userTenant, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, s.debitMiss(ctx, tx, req.UserID)
		}
		return nil, nil, fmt.Errorf("debit user %d: %w", req.UserID, err)
	}

	// The job belongs to its user's tenant.
	tid, err := s.gate.InsertTenant(ctx, tableJobs, &userTenant)
	if err != nil {
		return nil, nil, err
	}

	j, err := scanJob(tx.QueryRow(ctx,
		`INSERT INTO generation_jobs (tenant_id, user_id, provider, prompt, status, cost)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+jobColumns,
		tid, req.UserID, req.Provider, req.Prompt, string(job.StatusProcessing), req.Cost,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("insert job: %w", err)
	}

	var entry *ledger.Entry
	if req.Cost > 0 {
		entry = &ledger.Entry{
			TenantID:     tid,
			UserID:       req.UserID,
			Type:         ledger.TypeConsume,
			Amount:       req.Cost,
			BalanceAfter: balance,
			JobID:        &j.ID,
			Remark:       "generation job " + req.Provider,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return &j, entry, nil
}

// debitMiss tells a missing user apart from an insufficient balance after a
// conditional debit matched no row.
func (s *Store) debitMiss(ctx context.Context, tx pgx.Tx, userID int64) error {
	where, args := s.gate.Where(ctx, tableUsers, []string{"id = $1"}, userID)
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users`+where+`)`, args...).Scan(&exists); err != nil {
		return fmt.Errorf("check user %d: %w", userID, err)
	}
	if !exists {
		return fmt.Errorf("debit user %d: %w", userID, domain.ErrNotFound)
	}
	return fmt.Errorf("debit user %d: %w", userID, domain.ErrInsufficientBalance)
}

func (s *Store) SetProviderTask(ctx context.Context, id int64, taskID string) error {
	where, args := s.gate.Where(ctx, tableJobs, []string{"id = $2"}, taskID, id)
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET provider_task_id = $1, updated_at = now()`+where, args...)
	return execExpectOne(tag, err, "set provider task for job %d", id)
}

func (s *Store) GetJob(ctx context.Context, id int64) (*job.Job, error) {
	where, args := s.gate.Where(ctx, tableJobs, []string{"id = $1"}, id)
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs`+where, args...))
	if err != nil {
		return nil, notFoundWrap(err, "get job %d", id)
	}
	return &j, nil
}

// ListJobs returns the newest jobs, optionally restricted to one user
// (userID > 0).
func (s *Store) ListJobs(ctx context.Context, userID int64, limit int) ([]job.Job, error) {
	var conds []string
	var args []any
	if userID > 0 {
		conds = append(conds, "user_id = $1")
		args = append(args, userID)
	}
	where, args := s.gate.Where(ctx, tableJobs, conds, args...)
	lim, args := limitArg(args, limit)

	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs`+where+` ORDER BY created_at DESC`+lim, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) ListProcessingJobs(ctx context.Context, limit int) ([]job.Job, error) {
	where, args := s.gate.Where(ctx, tableJobs, []string{"status = $1"}, string(job.StatusProcessing))
	lim, args := limitArg(args, limit)

	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs`+where+` ORDER BY created_at ASC`+lim, args...)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]job.Job, error) {
	where, args := s.gate.Where(ctx, tableJobs,
		[]string{"status = $1", "created_at < $2"}, string(job.StatusProcessing), olderThan)
	lim, args := limitArg(args, limit)

	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs`+where+` ORDER BY created_at ASC`+lim, args...)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) CompleteJob(ctx context.Context, id int64, resultURL string) (bool, error) {
	where, args := s.gate.Where(ctx, tableJobs,
		[]string{"id = $3", "status = $4"},
		string(job.StatusSuccess), resultURL, id, string(job.StatusProcessing))
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_jobs SET status = $1, result_url = $2, failure_reason = NULL, updated_at = now()`+where,
		args...)
	if err != nil {
		return false, fmt.Errorf("complete job %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailJob locks the job row, re-checks that it is still processing, marks it
// failed and refunds its cost, all in one transaction. A concurrent caller
// blocks on the row lock and then observes the terminal state, so it writes
// nothing.
func (s *Store) FailJob(ctx context.Context, id int64, reason string) (*job.FailOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	where, args := s.gate.Where(ctx, tableJobs, []string{"id = $1"}, id)
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs`+where+` FOR UPDATE`, args...))
	if err != nil {
		return nil, notFoundWrap(err, "lock job %d", id)
	}

	if j.Status != job.StatusProcessing {
		return &job.FailOutcome{Job: j}, nil
	}

	fwhere, fargs := s.gate.Where(ctx, tableJobs,
		[]string{"id = $3", "status = $4"},
		string(job.StatusFailed), reason, id, string(job.StatusProcessing))
	tag, err := tx.Exec(ctx,
		`UPDATE generation_jobs SET status = $1, failure_reason = $2, updated_at = now()`+fwhere, fargs...)
	if err != nil {
		return nil, fmt.Errorf("fail job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &job.FailOutcome{Job: j}, nil
	}

	out := &job.FailOutcome{Transitioned: true}
	if j.Cost > 0 {
		uwhere, uargs := s.gate.Where(ctx, tableUsers, []string{"id = $2"}, j.Cost, j.UserID)
		var balance int64
		if err := tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $1, updated_at = now()`+uwhere+` RETURNING balance`,
			uargs...,
		).Scan(&balance); err != nil {
			return nil, notFoundWrap(err, "refund user %d for job %d", j.UserID, id)
		}

		entry := &ledger.Entry{
			TenantID:     j.TenantID,
			UserID:       j.UserID,
			Type:         ledger.TypeRefund,
			Amount:       j.Cost,
			BalanceAfter: balance,
			JobID:        &j.ID,
			Remark:       reason,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return nil, err
		}
		out.Refunded = j.Cost
		out.BalanceAfter = balance
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	j.Status = job.StatusFailed
	j.FailureReason = &reason
	j.UpdatedAt = time.Now()
	out.Job = j
	return out, nil
}

func (s *Store) CountJobsByTenant(ctx context.Context) ([]job.TenantStats, error) {
	where, args := s.gate.Where(ctx, tableJobs, nil)
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id,
		        count(*) FILTER (WHERE status = 'processing'),
		        count(*) FILTER (WHERE status = 'success'),
		        count(*) FILTER (WHERE status = 'failed'),
		        COALESCE(sum(cost), 0)
		 FROM generation_jobs`+where+`
		 GROUP BY tenant_id ORDER BY tenant_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var stats []job.TenantStats
	for rows.Next() {
		var st job.TenantStats
		if err := rows.Scan(&st.TenantID, &st.Processing, &st.Success, &st.Failed, &st.CostTotal); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats = append(stats, st)
	}
	return orEmpty(stats), rows.Err()
}

// insertLedger appends e inside tx and fills its generated fields.
func insertLedger(ctx context.Context, tx pgx.Tx, e *ledger.Entry) error {
	if e.TradeNo == "" {
		e.TradeNo = uuid.NewString()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO balance_ledger (tenant_id, user_id, type, amount, balance_after, job_id, trade_no, remark)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		e.TenantID, e.UserID, string(e.Type), e.Amount, e.BalanceAfter, e.JobID, e.TradeNo, e.Remark,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return conflictWrap(err, "insert %s ledger entry", e.Type)
	}
	return nil
}
