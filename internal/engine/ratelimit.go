package engine

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces calls so that consecutive acquisitions are at least one
// interval apart. Safe for concurrent use: each Acquire reserves the next
// slot under the mutex and then sleeps outside it.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewLimiter builds a limiter allowing callsPerMinute acquisitions per
// minute. callsPerMinute <= 0 disables limiting.
func NewLimiter(callsPerMinute int) *Limiter {
	var interval time.Duration
	if callsPerMinute > 0 {
		interval = time.Minute / time.Duration(callsPerMinute)
	}
	return &Limiter{interval: interval}
}

// Acquire blocks until the caller's reserved slot arrives or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
