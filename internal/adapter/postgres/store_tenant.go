package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
)

const tenantColumns = `id, name, domain, code, enabled, deleted, created_at, updated_at`

func scanTenant(row scannable) (tenant.Tenant, error) {
	var t tenant.Tenant
	var domainName, code *string
	err := row.Scan(&t.ID, &t.Name, &domainName, &code, &t.Enabled, &t.Deleted, &t.CreatedAt, &t.UpdatedAt)
	t.Domain = derefOr(domainName)
	t.Code = derefOr(code)
	return t, err
}

// --- Tenant CRUD ---

func (s *Store) CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, domain, code) VALUES ($1, $2, $3)
		 RETURNING `+tenantColumns,
		req.Name, nullIfEmpty(tenant.NormalizeHost(req.Domain)), nullIfEmpty(tenant.NormalizeCode(req.Code)),
	))
	if err != nil {
		return nil, conflictWrap(err, "create tenant")
	}
	return &t, nil
}

func (s *Store) GetTenant(ctx context.Context, id int64) (*tenant.Tenant, error) {
	where, args := s.gate.Where(ctx, tableTenants, []string{"id = $1"}, id)
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants`+where, args...))
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %d", id)
	}
	return &t, nil
}

// ListActiveTenants returns every tenant that is not soft-deleted, disabled
// ones included, ordered by id.
func (s *Store) ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error) {
	where, args := s.gate.Where(ctx, tableTenants, []string{"NOT deleted"})
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants`+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return orEmpty(tenants), rows.Err()
}
