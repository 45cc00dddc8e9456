// Package core defines the unit of benchmark work and the thread that runs it.
package core

import (
	"context"

	"github.com/oracle/coherence-sub061/internal/collector"
)

// Task is one iteration of cache-operation logic. A Task records its own
// per-operation outcomes on result; a returned error ends the owning thread's
// loop early.
type Task interface {
	Run(ctx context.Context, result *collector.TestResult) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, result *collector.TestResult) error

func (f TaskFunc) Run(ctx context.Context, result *collector.TestResult) error {
	return f(ctx, result)
}

// Limiter throttles iterations. ratelimit.RateLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}
