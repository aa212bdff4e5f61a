package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/service"
)

// JobAPI is the job and balance surface used by the tenant API.
type JobAPI interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*job.Job, error)
	Get(ctx context.Context, id int64) (*job.Job, error)
	List(ctx context.Context, userID int64, limit int) ([]job.Job, error)
	Sync(ctx context.Context, id int64) (*job.Job, error)
	Balance(ctx context.Context, userID int64) (*user.User, error)
	Ledger(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error)
	Recharge(ctx context.Context, userID, amount int64, remark string) (*ledger.Entry, error)
}

// AuthAPI registers and authenticates tenant users.
type AuthAPI interface {
	Register(ctx context.Context, req user.CreateRequest) (*user.User, error)
	Login(ctx context.Context, req user.LoginRequest) (*user.User, error)
}

// TenantLookup reads the in-memory tenant directory.
type TenantLookup interface {
	ByID(id int64) (tenant.Tenant, bool)
}

// AdminAPI backs the cross-tenant admin routes.
type AdminAPI interface {
	List() []tenant.Tenant
	Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	Refresh(ctx context.Context) error
	Stats(ctx context.Context) ([]job.TenantStats, error)
	RunSyncPass(ctx context.Context) (service.SyncReport, error)
	RunTimeoutPass(ctx context.Context) (service.TimeoutReport, error)
}

var (
	_ JobAPI   = (*service.JobService)(nil)
	_ AuthAPI  = (*service.AuthService)(nil)
	_ AdminAPI = (*service.TenantAdminService)(nil)
)

// Handlers holds the HTTP handlers for the SiteKeeper API.
type Handlers struct {
	Jobs      JobAPI
	Auth      AuthAPI
	Directory TenantLookup
	Admin     AdminAPI
	// WS upgrades tenant clients to the job status stream. Nil disables /ws.
	WS http.HandlerFunc
}
