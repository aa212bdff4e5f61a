package service

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/config"
	"github.com/Strob0t/SiteKeeper/internal/domain"
)

func newTestGuard(now *time.Time) *LoginGuard {
	g := NewLoginGuard(config.Login{MaxAttempts: 3, Lockout: 15 * time.Minute})
	g.now = func() time.Time { return *now }
	return g
}

func TestLoginGuard_LocksAfterMaxAttempts(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)

	for i := 1; i <= 2; i++ {
		if g.RecordFailure("Alice@Example.com") {
			t.Fatalf("locked after %d failures", i)
		}
	}
	if err := g.Check("alice@example.com"); err != nil {
		t.Fatalf("unexpected lock: %v", err)
	}
	if !g.RecordFailure("alice@example.com") {
		t.Fatal("expected lock on third failure")
	}
	if err := g.Check(" ALICE@example.com "); !errors.Is(err, domain.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	// Other identifiers are unaffected.
	if err := g.Check("bob@example.com"); err != nil {
		t.Fatalf("bob locked: %v", err)
	}

	now = now.Add(16 * time.Minute)
	if err := g.Check("alice@example.com"); err != nil {
		t.Fatalf("still locked after expiry: %v", err)
	}
	if g.RecordFailure("alice@example.com") {
		t.Fatal("counter did not restart after lockout expired")
	}
}

func TestLoginGuard_FailureWhileLockedExtends(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)
	for range 3 {
		g.RecordFailure("a@example.com")
	}

	now = now.Add(10 * time.Minute)
	if !g.RecordFailure("a@example.com") {
		t.Fatal("expected still locked")
	}
	now = now.Add(10 * time.Minute)
	if err := g.Check("a@example.com"); !errors.Is(err, domain.ErrLocked) {
		t.Fatalf("lockout was not extended: %v", err)
	}
}

func TestLoginGuard_ResetClears(t *testing.T) {
	now := time.Now()
	g := newTestGuard(&now)
	g.RecordFailure("a@example.com")
	g.RecordFailure("a@example.com")
	g.Reset("A@example.com")

	if g.Len() != 0 {
		t.Fatalf("expected no entries, got %d", g.Len())
	}
	if g.RecordFailure("a@example.com") {
		t.Fatal("reset did not clear the counter")
	}
}

func TestLoginGuard_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(&now)
	g.RecordFailure("idle@example.com")
	for range 3 {
		g.RecordFailure("locked@example.com")
	}

	now = now.Add(14 * time.Minute)
	g.cleanup()
	if g.Len() != 2 {
		t.Fatalf("entries = %d, want 2", g.Len())
	}

	now = now.Add(2 * time.Minute)
	g.cleanup()
	if g.Len() != 0 {
		t.Fatalf("entries = %d, want 0", g.Len())
	}
}
