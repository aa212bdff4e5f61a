// Package tenantfilter scopes every tenant-aware SQL statement to the tenant
// installed in the request context.
//
// Repositories build their WHERE clauses through Gate.Where and resolve the
// tenant_id of new rows through Gate.InsertTenant. When no tenant is
// installed, reads compare against NoTenant, a value no row can carry, so
// they match nothing instead of everything.
package tenantfilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// Column is the tenant discriminator column present on every scoped table.
const Column = "tenant_id"

// NoTenant is substituted for the tenant predicate when no tenant is
// installed. Tenant ids are non-negative, so it matches no row.
const NoTenant int64 = -1

// ErrNoTenant is returned by InsertTenant in strict mode when neither the
// caller nor the context supplies a tenant.
var ErrNoTenant = errors.New("tenantfilter: no tenant in context")

// DefaultExempt lists the tables that are not tenant-scoped.
var DefaultExempt = []string{"tenants", "admin_users"}

// Option configures a Gate.
type Option func(*Gate)

// WithStrictInserts makes InsertTenant fail with ErrNoTenant instead of
// defaulting an unresolved insert to the admin tenant.
func WithStrictInserts() Option {
	return func(g *Gate) { g.strict = true }
}

// Gate injects the tenant predicate into statements on scoped tables.
// A Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	exempt map[string]struct{}
	strict bool
}

// New creates a Gate. Tables in exempt are never filtered.
func New(exempt []string, opts ...Option) *Gate {
	g := &Gate{exempt: make(map[string]struct{}, len(exempt))}
	for _, t := range exempt {
		g.exempt[strings.ToLower(t)] = struct{}{}
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Exempt reports whether table is outside tenant scoping.
func (g *Gate) Exempt(table string) bool {
	_, ok := g.exempt[strings.ToLower(table)]
	return ok
}

// Predicate returns the tenant value a statement on table must compare
// against and whether a predicate applies at all. Exempt tables and
// ignore-tenant contexts get no predicate.
func (g *Gate) Predicate(ctx context.Context, table string) (int64, bool) {
	if g.Exempt(table) {
		return 0, false
	}
	if tenantctx.Ignored(ctx) {
		slog.DebugContext(ctx, "tenant filter bypassed", "table", table)
		return 0, false
	}
	if id, ok := tenantctx.Current(ctx); ok {
		return id, true
	}
	return NoTenant, true
}

// Where builds a WHERE clause from conds (already written with $1..$n
// placeholders matching args) and appends the tenant predicate for table.
// The returned args extend the input args. With no conditions and no
// predicate, the clause is empty.
//
// The table may be given as "name alias"; the predicate is then qualified
// with the alias.
func (g *Gate) Where(ctx context.Context, table string, conds []string, args ...any) (string, []any) {
	name, alias := splitTable(table)
	out := append([]string(nil), conds...)
	if id, ok := g.Predicate(ctx, name); ok {
		args = append(args, id)
		col := Column
		if alias != "" {
			col = alias + "." + Column
		}
		out = append(out, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(out) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(out, " AND "), args
}

// InsertTenant resolves the tenant_id for a new row in table. An explicitly
// supplied value is kept unchanged. Otherwise the installed tenant is used;
// with none installed the row goes to the admin tenant (0), or ErrNoTenant
// is returned in strict mode.
func (g *Gate) InsertTenant(ctx context.Context, table string, supplied *int64) (int64, error) {
	if supplied != nil {
		return *supplied, nil
	}
	if g.Exempt(table) {
		return 0, nil
	}
	if id, ok := tenantctx.Current(ctx); ok {
		return id, nil
	}
	if g.strict {
		return 0, fmt.Errorf("insert into %s: %w", table, ErrNoTenant)
	}
	slog.WarnContext(ctx, "insert without tenant, defaulting to admin tenant", "table", table)
	return 0, nil
}

// Visible reports whether a row of table owned by rowTenant may be observed
// from ctx. In-memory stores use it to apply the same rule as Where.
func (g *Gate) Visible(ctx context.Context, table string, rowTenant int64) bool {
	id, ok := g.Predicate(ctx, table)
	if !ok {
		return true
	}
	return id == rowTenant
}

func splitTable(table string) (name, alias string) {
	fields := strings.Fields(table)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], fields[len(fields)-1]
	}
}
