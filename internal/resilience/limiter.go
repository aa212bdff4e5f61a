package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter caps concurrent calls to an upstream shared by the background
// loops and request handlers, so a slow provider cannot absorb every
// goroutine.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter creates a Limiter admitting at most limit concurrent calls.
// Limits below one are raised to one.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(limit))}
}

// Run waits for a slot, runs fn and releases the slot. It returns ctx.Err()
// when ctx ends first. A nil Limiter runs fn directly.
func (l *Limiter) Run(ctx context.Context, fn func() error) error {
	if l == nil {
		return fn()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
