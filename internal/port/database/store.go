// Package database defines the database store port (interface).
//
// Every method on a tenant-scoped table is filtered by the tenant installed
// in ctx. Callers that need a cross-tenant view pass a context derived with
// tenantctx.IgnoreTenant.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
)

// TenantStore reads and writes the tenants table, which is not tenant-scoped.
type TenantStore interface {
	ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error)
	GetTenant(ctx context.Context, id int64) (*tenant.Tenant, error)
	CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
}

// JobStore persists generation jobs together with the balance movements they
// cause.
type JobStore interface {
	// CreateJob debits req.Cost from the user, inserts the job in processing
	// state and appends the consume ledger entry, all in one transaction.
	// Returns domain.ErrInsufficientBalance when the balance does not cover
	// the cost.
	CreateJob(ctx context.Context, req job.CreateRequest) (*job.Job, *ledger.Entry, error)
	SetProviderTask(ctx context.Context, id int64, taskID string) error
	GetJob(ctx context.Context, id int64) (*job.Job, error)
	ListJobs(ctx context.Context, userID int64, limit int) ([]job.Job, error)
	ListProcessingJobs(ctx context.Context, limit int) ([]job.Job, error)
	// ListStuckJobs returns processing jobs created before olderThan, oldest
	// first.
	ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]job.Job, error)
	// CompleteJob moves a processing job to success. It reports false when
	// the job had already left processing.
	CompleteJob(ctx context.Context, id int64, resultURL string) (bool, error)
	// FailJob moves a processing job to failed and refunds its cost in the
	// same transaction. The job row is locked and re-checked first, so across
	// any number of concurrent callers at most one refund is written.
	FailJob(ctx context.Context, id int64, reason string) (*job.FailOutcome, error)
	CountJobsByTenant(ctx context.Context) ([]job.TenantStats, error)
}

// UserStore persists users, their balance ledger and admin credentials.
type UserStore interface {
	CreateUser(ctx context.Context, req user.CreateRequest, passwordHash string) (*user.User, error)
	GetUser(ctx context.Context, id int64) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListLedger(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error)
	// Recharge credits amount to the user and appends a recharge entry.
	Recharge(ctx context.Context, userID, amount int64, remark string) (*ledger.Entry, error)

	CreateAdmin(ctx context.Context, req user.CreateAdminRequest, prefix, keyHash string) (*user.Admin, error)
	GetAdminByKeyHash(ctx context.Context, keyHash string) (*user.Admin, error)
}

// Store is the port interface for database operations.
type Store interface {
	TenantStore
	JobStore
	UserStore
}
