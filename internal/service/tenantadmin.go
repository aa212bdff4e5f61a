package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/job"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/port/messagequeue"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// TenantAdminService backs the administrative API. Every method works
// across tenants.
type TenantAdminService struct {
	store      database.Store
	directory  *TenantDirectory
	reconciler *JobReconciler
	queue      messagequeue.Queue
}

// NewTenantAdminService creates the admin service. queue may be nil.
func NewTenantAdminService(store database.Store, dir *TenantDirectory, rec *JobReconciler, queue messagequeue.Queue) *TenantAdminService {
	return &TenantAdminService{
		store:      store,
		directory:  dir,
		reconciler: rec,
		queue:      queue,
	}
}

// List returns the tenants currently loaded in the directory.
func (s *TenantAdminService) List() []tenant.Tenant {
	return s.directory.All()
}

// Create validates and inserts a tenant, then refreshes the directory on
// every instance.
func (s *TenantAdminService) Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	req.Domain = tenant.NormalizeHost(req.Domain)
	req.Code = tenant.NormalizeCode(req.Code)

	t, err := s.store.CreateTenant(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	if err := s.Refresh(ctx); err != nil {
		slog.WarnContext(ctx, "refresh after tenant create failed", "error", err)
	}
	return t, nil
}

// Refresh reloads the local directory and signals the other instances.
func (s *TenantAdminService) Refresh(ctx context.Context) error {
	if err := s.directory.Refresh(ctx); err != nil {
		return err
	}
	if s.queue == nil {
		return nil
	}
	origin, _ := os.Hostname()
	data, err := json.Marshal(messagequeue.TenantsRefreshPayload{Origin: origin})
	if err != nil {
		return err
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTenantsRefresh, data); err != nil {
		slog.WarnContext(ctx, "broadcast tenant refresh failed", "error", err)
	}
	return nil
}

// Stats aggregates job counts for every tenant.
func (s *TenantAdminService) Stats(ctx context.Context) ([]job.TenantStats, error) {
	return s.store.CountJobsByTenant(tenantctx.IgnoreTenant(ctx))
}

// RunTimeoutPass runs one timeout pass immediately.
func (s *TenantAdminService) RunTimeoutPass(ctx context.Context) (TimeoutReport, error) {
	return s.reconciler.TimeoutPass(ctx)
}

// RunSyncPass runs one status sync pass immediately.
func (s *TenantAdminService) RunSyncPass(ctx context.Context) (SyncReport, error) {
	return s.reconciler.SyncPass(ctx)
}
