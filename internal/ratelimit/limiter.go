// Package ratelimit throttles test thread iterations.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter caps iterations per second across every thread sharing it.
// A limit of zero disables throttling.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing opsPerSecond iterations per
// second, with a burst of one second's worth.
func NewRateLimiter(opsPerSecond int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), burstFor(opsPerSecond)),
	}
}

// Wait blocks until an iteration is allowed or ctx is done. A nil limiter
// never blocks.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	r.mu.RLock()
	limiter := r.limiter
	r.mu.RUnlock()

	if limiter.Limit() == 0 {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// SetRate changes the limit while threads are waiting on it.
func (r *RateLimiter) SetRate(opsPerSecond int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(rate.Limit(opsPerSecond))
	r.limiter.SetBurst(burstFor(opsPerSecond))
}

// Rate returns the current limit in iterations per second.
func (r *RateLimiter) Rate() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.limiter.Limit())
}

func burstFor(opsPerSecond int) int {
	if opsPerSecond < 1 {
		return 1
	}
	return opsPerSecond
}
