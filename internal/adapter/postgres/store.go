package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/SiteKeeper/internal/port/database"
	"github.com/Strob0t/SiteKeeper/internal/tenantfilter"
)

// Table names referenced by the tenant gate.
const (
	tableTenants = "tenants"
	tableUsers   = "users"
	tableJobs    = "generation_jobs"
	tableLedger  = "balance_ledger"
	tableAdmins  = "admin_users"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL. Every statement on a
// tenant-scoped table builds its WHERE clause through the tenant gate.
type Store struct {
	pool *pgxpool.Pool
	gate *tenantfilter.Gate
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, gate *tenantfilter.Gate) *Store {
	return &Store{pool: pool, gate: gate}
}

// Pool returns the underlying connection pool (used by health checks).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
