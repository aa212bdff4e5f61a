package tenantctx

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCurrentEmpty(t *testing.T) {
	if id, ok := Current(context.Background()); ok {
		t.Fatalf("expected no tenant, got %d", id)
	}
}

func TestInstallAndCurrent(t *testing.T) {
	ctx := Install(context.Background(), 7)
	id, ok := Current(ctx)
	if !ok || id != 7 {
		t.Fatalf("Current = (%d, %v), want (7, true)", id, ok)
	}
}

func TestInstallZeroIsAdminTenant(t *testing.T) {
	id, ok := Current(Install(context.Background(), 0))
	if !ok || id != 0 {
		t.Fatalf("Current = (%d, %v), want (0, true)", id, ok)
	}
}

func TestInstallOverwritesWithoutTouchingParent(t *testing.T) {
	parent := Install(context.Background(), 1)
	child := Install(parent, 2)

	if id, _ := Current(child); id != 2 {
		t.Fatalf("child tenant = %d, want 2", id)
	}
	if id, _ := Current(parent); id != 1 {
		t.Fatalf("parent tenant = %d, want 1", id)
	}
}

func TestClearShadowsParent(t *testing.T) {
	parent := Install(context.Background(), 3)
	cleared := Clear(parent)

	if _, ok := Current(cleared); ok {
		t.Fatal("expected cleared context to have no tenant")
	}
	if id, ok := Current(parent); !ok || id != 3 {
		t.Fatal("clearing a child must not affect the parent")
	}
}

func TestIgnoreTenant(t *testing.T) {
	ctx := IgnoreTenant(context.Background())
	if !Ignored(ctx) {
		t.Fatal("expected ignore marker")
	}
	if Ignored(context.Background()) {
		t.Fatal("background context must not be ignored")
	}

	scoped := Install(ctx, 5)
	if Ignored(scoped) {
		t.Fatal("installing a tenant must drop the ignore marker")
	}
}

func TestIgnoreTenantKeepsInstalledTenant(t *testing.T) {
	ctx := IgnoreTenant(Install(context.Background(), 4))
	if id, ok := Current(ctx); !ok || id != 4 {
		t.Fatalf("Current = (%d, %v), want (4, true)", id, ok)
	}
}

func TestScopeRestoresOnError(t *testing.T) {
	outer := Install(context.Background(), 1)
	errBoom := errors.New("boom")

	var inner int64
	err := Scope(outer, 9, func(ctx context.Context) error {
		inner, _ = Current(ctx)
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if inner != 9 {
		t.Fatalf("inner tenant = %d, want 9", inner)
	}
	if id, _ := Current(outer); id != 1 {
		t.Fatalf("outer tenant = %d after scope, want 1", id)
	}
}

func TestScopeRestoresOnPanic(t *testing.T) {
	outer := context.Background()

	func() {
		defer func() { _ = recover() }()
		_ = Scope(outer, 9, func(context.Context) error {
			panic("handler exploded")
		})
	}()

	if _, ok := Current(outer); ok {
		t.Fatal("expected no tenant after panicking scope")
	}
}

func TestScopeNested(t *testing.T) {
	var seen []int64
	_ = Scope(context.Background(), 1, func(ctx context.Context) error {
		id, _ := Current(ctx)
		seen = append(seen, id)
		_ = Scope(ctx, 2, func(ctx context.Context) error {
			id, _ := Current(ctx)
			seen = append(seen, id)
			return nil
		})
		id, _ = Current(ctx)
		seen = append(seen, id)
		return nil
	})

	want := []int64{1, 2, 1}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestScopeConcurrentIsolation(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := range 100 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = Scope(base, id, func(ctx context.Context) error {
				if got, _ := Current(ctx); got != id {
					errs <- errors.New("tenant leaked across goroutines")
				}
				return nil
			})
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}

func TestDetachKeepsTenant(t *testing.T) {
	ctx, cancel := context.WithCancel(Install(context.Background(), 6))
	detached := Detach(ctx)
	cancel()

	if detached.Err() != nil {
		t.Fatal("detached context must not be cancelled")
	}
	if id, ok := Current(detached); !ok || id != 6 {
		t.Fatalf("Current = (%d, %v), want (6, true)", id, ok)
	}
}

func TestLogAttr(t *testing.T) {
	if _, ok := LogAttr(context.Background()); ok {
		t.Fatal("expected no attr without tenant")
	}
	attr, ok := LogAttr(Install(context.Background(), 12))
	if !ok || attr.Key != "tenant_id" || attr.Value.Int64() != 12 {
		t.Fatalf("unexpected attr %v", attr)
	}
}
