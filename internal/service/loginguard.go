package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/config"
	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
)

// LoginGuard counts failed logins per identifier and locks the identifier
// out after too many. Lockout is a global control and ignores tenants.
type LoginGuard struct {
	mu          sync.Mutex
	entries     map[string]*loginAttempts
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

type loginAttempts struct {
	failures    int
	lockedUntil time.Time
	lastSeen    time.Time
}

// NewLoginGuard creates a guard from the login configuration.
func NewLoginGuard(cfg config.Login) *LoginGuard {
	return &LoginGuard{
		entries:     make(map[string]*loginAttempts),
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.Lockout,
		now:         time.Now,
	}
}

// Check returns domain.ErrLocked while the identifier is locked out.
func (g *LoginGuard) Check(identifier string) error {
	key := user.NormalizeEmail(identifier)

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return nil
	}
	if until := e.lockedUntil; g.now().Before(until) {
		return fmt.Errorf("%w: retry after %s", domain.ErrLocked, until.Sub(g.now()).Round(time.Second))
	}
	return nil
}

// RecordFailure counts a failed attempt and reports whether the identifier
// is now locked. Every failure at or past the limit extends the lockout.
func (g *LoginGuard) RecordFailure(identifier string) bool {
	key := user.NormalizeEmail(identifier)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		e = &loginAttempts{}
		g.entries[key] = e
	}
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		// previous lockout expired, start counting again
		e.failures = 0
		e.lockedUntil = time.Time{}
	}
	e.failures++
	e.lastSeen = now

	if e.failures >= g.maxAttempts {
		e.lockedUntil = now.Add(g.lockout)
		slog.Warn("login locked", "identifier", key, "failures", e.failures, "until", e.lockedUntil)
		return true
	}
	return false
}

// Reset clears the identifier's failure count after a successful login.
func (g *LoginGuard) Reset(identifier string) {
	key := user.NormalizeEmail(identifier)
	g.mu.Lock()
	delete(g.entries, key)
	g.mu.Unlock()
}

// StartCleanup removes idle entries every interval until ctx is cancelled.
func (g *LoginGuard) StartCleanup(ctx context.Context, interval time.Duration) {
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
				g.cleanup()
			}
		}
	}()
}

// cleanup drops entries that are not locked and have been idle for longer
// than the lockout window.
func (g *LoginGuard) cleanup() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, e := range g.entries {
		if now.Before(e.lockedUntil) {
			continue
		}
		if now.Sub(e.lastSeen) > g.lockout {
			delete(g.entries, k)
		}
	}
}

// Len returns the number of tracked identifiers.
func (g *LoginGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
