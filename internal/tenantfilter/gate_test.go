package tenantfilter

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

func TestWhere(t *testing.T) {
	g := New(DefaultExempt)
	bg := context.Background()

	tests := []struct {
		name     string
		ctx      context.Context
		table    string
		conds    []string
		args     []any
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "tenant installed",
			ctx:      tenantctx.Install(bg, 7),
			table:    "generation_jobs",
			conds:    []string{"id = $1"},
			args:     []any{int64(123)},
			wantSQL:  " WHERE id = $1 AND tenant_id = $2",
			wantArgs: []any{int64(123), int64(7)},
		},
		{
			name:     "no tenant fails closed",
			ctx:      bg,
			table:    "generation_jobs",
			conds:    []string{"status = $1"},
			args:     []any{"processing"},
			wantSQL:  " WHERE status = $1 AND tenant_id = $2",
			wantArgs: []any{"processing", NoTenant},
		},
		{
			name:     "admin tenant zero",
			ctx:      tenantctx.Install(bg, 0),
			table:    "users",
			wantSQL:  " WHERE tenant_id = $1",
			wantArgs: []any{int64(0)},
		},
		{
			name:     "exempt table",
			ctx:      tenantctx.Install(bg, 7),
			table:    "tenants",
			conds:    []string{"enabled = $1"},
			args:     []any{true},
			wantSQL:  " WHERE enabled = $1",
			wantArgs: []any{true},
		},
		{
			name:     "ignore tenant",
			ctx:      tenantctx.IgnoreTenant(bg),
			table:    "generation_jobs",
			conds:    []string{"status = $1"},
			args:     []any{"processing"},
			wantSQL:  " WHERE status = $1",
			wantArgs: []any{"processing"},
		},
		{
			name:     "exempt without conditions",
			ctx:      bg,
			table:    "tenants",
			wantSQL:  "",
			wantArgs: nil,
		},
		{
			name:     "aliased table",
			ctx:      tenantctx.Install(bg, 3),
			table:    "generation_jobs j",
			conds:    []string{"j.id = $1"},
			args:     []any{int64(1)},
			wantSQL:  " WHERE j.id = $1 AND j.tenant_id = $2",
			wantArgs: []any{int64(1), int64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := g.Where(tt.ctx, tt.table, tt.conds, tt.args...)
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("args[%d] = %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestExemptCaseInsensitive(t *testing.T) {
	g := New([]string{"Tenants"})
	if !g.Exempt("tenants") || !g.Exempt("TENANTS") {
		t.Fatal("exempt lookup must be case-insensitive")
	}
	if g.Exempt("users") {
		t.Fatal("users must not be exempt")
	}
}

func TestInsertTenant(t *testing.T) {
	bg := context.Background()
	explicit := int64(42)

	tests := []struct {
		name     string
		gate     *Gate
		ctx      context.Context
		table    string
		supplied *int64
		want     int64
		wantErr  error
	}{
		{"installed tenant", New(DefaultExempt), tenantctx.Install(bg, 5), "users", nil, 5, nil},
		{"explicit value kept", New(DefaultExempt), tenantctx.Install(bg, 5), "users", &explicit, 42, nil},
		{"explicit without tenant", New(DefaultExempt), bg, "users", &explicit, 42, nil},
		{"unresolved defaults to admin", New(DefaultExempt), bg, "users", nil, 0, nil},
		{"strict unresolved", New(DefaultExempt, WithStrictInserts()), bg, "users", nil, 0, ErrNoTenant},
		{"strict exempt table", New(DefaultExempt, WithStrictInserts()), bg, "tenants", nil, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.gate.InsertTenant(tt.ctx, tt.table, tt.supplied)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("tenant = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVisible(t *testing.T) {
	g := New(DefaultExempt)
	bg := context.Background()

	if !g.Visible(tenantctx.Install(bg, 1), "generation_jobs", 1) {
		t.Error("own tenant row must be visible")
	}
	if g.Visible(tenantctx.Install(bg, 1), "generation_jobs", 2) {
		t.Error("other tenant row must be hidden")
	}
	if g.Visible(bg, "generation_jobs", 0) {
		t.Error("no tenant must see nothing, not even admin rows")
	}
	if !g.Visible(tenantctx.IgnoreTenant(bg), "generation_jobs", 2) {
		t.Error("ignore-tenant must see all rows")
	}
	if !g.Visible(bg, "tenants", 9) {
		t.Error("exempt rows are always visible")
	}
}
