package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/adapter/otel"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
)

// TenantSnapshot is an immutable view of the tenant directory. A snapshot is
// never modified after it is published, so callers may perform several
// lookups against one consistent view.
type TenantSnapshot struct {
	byID     map[int64]*tenant.Tenant
	byDomain map[string]*tenant.Tenant
	byCode   map[string]*tenant.Tenant
	list     []tenant.Tenant
	loadedAt time.Time
}

func newSnapshot(tenants []tenant.Tenant) *TenantSnapshot {
	s := &TenantSnapshot{
		byID:     make(map[int64]*tenant.Tenant, len(tenants)),
		byDomain: make(map[string]*tenant.Tenant),
		byCode:   make(map[string]*tenant.Tenant),
		list:     make([]tenant.Tenant, 0, len(tenants)),
		loadedAt: time.Now(),
	}
	for i := range tenants {
		if tenants[i].Deleted {
			continue
		}
		s.list = append(s.list, tenants[i])
	}
	sort.Slice(s.list, func(i, j int) bool { return s.list[i].ID < s.list[j].ID })

	for i := range s.list {
		t := &s.list[i]
		s.byID[t.ID] = t
		if d := tenant.NormalizeHost(t.Domain); d != "" {
			s.byDomain[d] = t
		}
		if c := tenant.NormalizeCode(t.Code); c != "" {
			s.byCode[c] = t
		}
	}
	return s
}

// ByID returns the tenant with the given id.
func (s *TenantSnapshot) ByID(id int64) (tenant.Tenant, bool) {
	t, ok := s.byID[id]
	if !ok {
		return tenant.Tenant{}, false
	}
	return *t, true
}

// ByDomain looks a tenant up by host name. Case and a :port suffix are ignored.
func (s *TenantSnapshot) ByDomain(host string) (tenant.Tenant, bool) {
	t, ok := s.byDomain[tenant.NormalizeHost(host)]
	if !ok {
		return tenant.Tenant{}, false
	}
	return *t, true
}

// ByCode looks a tenant up by its short code, case-insensitively.
func (s *TenantSnapshot) ByCode(code string) (tenant.Tenant, bool) {
	t, ok := s.byCode[tenant.NormalizeCode(code)]
	if !ok {
		return tenant.Tenant{}, false
	}
	return *t, true
}

// All returns a copy of every tenant in the snapshot, ordered by id.
func (s *TenantSnapshot) All() []tenant.Tenant {
	out := make([]tenant.Tenant, len(s.list))
	copy(out, s.list)
	return out
}

// Len returns the number of tenants in the snapshot.
func (s *TenantSnapshot) Len() int { return len(s.list) }

// LoadedAt returns when the snapshot was built.
func (s *TenantSnapshot) LoadedAt() time.Time { return s.loadedAt }

// TenantDirectory keeps an in-memory copy of all non-deleted tenants.
// Readers never block: a refresh builds a complete new snapshot and swaps it
// in with a single atomic store.
type TenantDirectory struct {
	store   database.TenantStore
	current atomic.Pointer[TenantSnapshot]
	metrics *otel.Metrics
}

// NewTenantDirectory creates an empty directory. Call Refresh or Start to
// populate it.
func NewTenantDirectory(store database.TenantStore) *TenantDirectory {
	d := &TenantDirectory{store: store}
	d.current.Store(newSnapshot(nil))
	return d
}

// SetMetrics attaches metric instruments.
func (d *TenantDirectory) SetMetrics(m *otel.Metrics) {
	d.metrics = m
}

// Refresh reloads the directory from the store. On error the previous
// snapshot stays in effect.
func (d *TenantDirectory) Refresh(ctx context.Context) error {
	tenants, err := d.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	snap := newSnapshot(tenants)
	d.current.Store(snap)

	if d.metrics != nil {
		d.metrics.DirectoryRefreshes.Add(ctx, 1)
	}
	slog.Debug("tenant directory refreshed", "tenants", snap.Len())
	return nil
}

// Start performs a synchronous first refresh and then refreshes every
// interval until ctx is cancelled. A failed first refresh is logged; the
// directory stays empty until a later refresh succeeds.
func (d *TenantDirectory) Start(ctx context.Context, interval time.Duration) {
	if err := d.Refresh(ctx); err != nil {
		slog.Warn("tenant directory: initial refresh failed", "error", err)
	}

	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					slog.Warn("tenant directory: periodic refresh failed", "error", err)
				}
			}
		}
	}()
}

// HandleRefresh is a messagequeue.Handler for tenants.refresh signals.
func (d *TenantDirectory) HandleRefresh(ctx context.Context, _ string, _ []byte) error {
	return d.Refresh(ctx)
}

// Snapshot returns the current consistent view.
func (d *TenantDirectory) Snapshot() *TenantSnapshot {
	return d.current.Load()
}

// ByID returns the tenant with the given id.
func (d *TenantDirectory) ByID(id int64) (tenant.Tenant, bool) {
	return d.Snapshot().ByID(id)
}

// ByDomain looks a tenant up by host name.
func (d *TenantDirectory) ByDomain(host string) (tenant.Tenant, bool) {
	return d.Snapshot().ByDomain(host)
}

// ByCode looks a tenant up by short code.
func (d *TenantDirectory) ByCode(code string) (tenant.Tenant, bool) {
	return d.Snapshot().ByCode(code)
}

// All returns every tenant in the current snapshot.
func (d *TenantDirectory) All() []tenant.Tenant {
	return d.Snapshot().All()
}
