// Package tenantctx carries the active tenant identity through a
// context.Context.
//
// A tenant installed with Install is visible only through the derived
// context. The caller's context is never mutated, so when the unit of work
// that installed a tenant returns, by any path, its caller still observes its
// own tenant (or none). Nested installations stack by derivation.
package tenantctx

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// state is the immutable value stored under contextKey. An explicit
// zero-valued state shadows any tenant installed further up the chain.
type state struct {
	id     int64
	set    bool
	ignore bool
}

// Install returns a context whose active tenant is id. Any ignore-tenant
// marker inherited from ctx is dropped: the installed tenant is always
// enforced.
func Install(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contextKey{}, state{id: id, set: true})
}

// Current returns the active tenant id and whether one is installed.
func Current(ctx context.Context) (int64, bool) {
	s, ok := ctx.Value(contextKey{}).(state)
	if !ok || !s.set {
		return 0, false
	}
	return s.id, true
}

// Clear returns a context with no active tenant, shadowing any tenant
// installed by an enclosing scope.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, state{})
}

// IgnoreTenant returns a context whose tenant-scoped reads and writes are not
// filtered by tenant. It is reserved for cross-tenant administrative
// aggregation and for the reconciler's bootstrap scans.
func IgnoreTenant(ctx context.Context) context.Context {
	s, _ := ctx.Value(contextKey{}).(state)
	s.ignore = true
	return context.WithValue(ctx, contextKey{}, s)
}

// Ignored reports whether ctx opted out of tenant filtering.
func Ignored(ctx context.Context) bool {
	s, _ := ctx.Value(contextKey{}).(state)
	return s.ignore
}

// LogAttr returns the tenant_id log attribute for ctx, if a tenant is installed.
func LogAttr(ctx context.Context) (slog.Attr, bool) {
	if id, ok := Current(ctx); ok {
		return slog.Int64("tenant_id", id), true
	}
	return slog.Attr{}, false
}
