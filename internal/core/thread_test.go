package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle/coherence-sub061/internal/collector"
)

func countingTask(calls *atomic.Int64) Task {
	return TaskFunc(func(ctx context.Context, result *collector.TestResult) error {
		calls.Add(1)
		result.IncSuccessCount(1)
		result.IncByteCount(10)
		return nil
	})
}

func TestTestThread_HandshakeHoldsUntilExecute(t *testing.T) {
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), countingTask(&calls), ThreadConfig{Name: "t0", Iterations: 3})

	assert.Equal(t, StateCreated, thread.State())

	thread.Start()
	assert.Equal(t, StateStarted, thread.State(), "Start returns once the thread is parked")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load(), "no iteration before Execute")

	thread.Execute()
	result := thread.WaitForResult(time.Second)
	require.NotNil(t, result)

	assert.Equal(t, StateDone, thread.State())
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(3), result.SuccessCount())
	assert.Equal(t, int64(30), result.ByteCount())
	assert.True(t, result.Stopped())
	assert.NoError(t, thread.Err())
}

func TestTestThread_ExecuteIsIdempotent(t *testing.T) {
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), countingTask(&calls), ThreadConfig{Iterations: 1})
	thread.Start()
	thread.Start()

	thread.Execute()
	thread.Execute()

	require.NotNil(t, thread.WaitForResult(0))
	assert.Equal(t, int64(1), calls.Load())
}

func TestTestThread_WaitForResultTimesOut(t *testing.T) {
	thread := NewTestThread(context.Background(), TaskFunc(func(ctx context.Context, _ *collector.TestResult) error {
		<-ctx.Done()
		return ctx.Err()
	}), ThreadConfig{Iterations: 1})
	thread.Start()
	thread.Execute()

	assert.Nil(t, thread.WaitForResult(20*time.Millisecond))

	thread.Interrupt()
	assert.NotNil(t, thread.WaitForResult(time.Second))
	assert.ErrorIs(t, thread.Err(), context.Canceled)
}

func TestTestThread_InterruptBeforeExecute(t *testing.T) {
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), countingTask(&calls), ThreadConfig{Iterations: 5})
	thread.Start()

	thread.Interrupt()
	result := thread.WaitForResult(time.Second)

	require.NotNil(t, result)
	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, time.Duration(0), result.Duration())
}

func TestTestThread_UnboundedIterationsRunUntilInterrupted(t *testing.T) {
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), countingTask(&calls), ThreadConfig{})
	thread.Start()
	thread.Execute()

	assert.Eventually(t, func() bool { return calls.Load() > 100 }, time.Second, time.Millisecond)
	thread.Interrupt()

	require.NotNil(t, thread.WaitForResult(time.Second))
}

func TestTestThread_PanicEndsLoopWithoutCrashing(t *testing.T) {
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), TaskFunc(func(ctx context.Context, result *collector.TestResult) error {
		if calls.Add(1) == 2 {
			panic("boom")
		}
		result.IncSuccessCount(1)
		return nil
	}), ThreadConfig{Iterations: 10})
	thread.Start()
	thread.Execute()

	result := thread.WaitForResult(time.Second)
	require.NotNil(t, result)

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(1), result.SuccessCount())
	assert.Equal(t, int64(1), result.FailureCount())
	assert.EqualError(t, thread.Err(), "panic: boom")
}

func TestTestThread_ErrorEndsLoop(t *testing.T) {
	stop := errors.New("stop on error")
	var calls atomic.Int64
	thread := NewTestThread(context.Background(), TaskFunc(func(ctx context.Context, result *collector.TestResult) error {
		calls.Add(1)
		result.IncFailureCount(1)
		return stop
	}), ThreadConfig{Iterations: 10})
	thread.Start()
	thread.Execute()

	result := thread.WaitForResult(time.Second)
	require.NotNil(t, result)

	assert.Equal(t, int64(1), calls.Load())
	assert.ErrorIs(t, thread.Err(), stop)
}

type countingLimiter struct {
	waits atomic.Int64
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits.Add(1)
	return ctx.Err()
}

func TestTestThread_WaitsOnLimiterEachIteration(t *testing.T) {
	var calls atomic.Int64
	limiter := &countingLimiter{}
	thread := NewTestThread(context.Background(), countingTask(&calls), ThreadConfig{Iterations: 4, Limiter: limiter})
	thread.Start()
	thread.Execute()

	require.NotNil(t, thread.WaitForResult(time.Second))
	assert.Equal(t, int64(4), limiter.waits.Load())
}

func TestTestThread_SnapshotDoesNotStopResult(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	proceed := make(chan struct{})
	thread := NewTestThread(context.Background(), TaskFunc(func(ctx context.Context, result *collector.TestResult) error {
		result.IncSuccessCount(1)
		<-proceed
		return nil
	}), ThreadConfig{Iterations: 2, Clock: clock})
	thread.Start()
	thread.Execute()

	assert.Eventually(t, func() bool { return thread.Snapshot().SuccessCount() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)
	snapshot := thread.Snapshot()
	assert.Equal(t, time.Second, snapshot.Duration())

	close(proceed)
	result := thread.WaitForResult(time.Second)
	require.NotNil(t, result)
	assert.Equal(t, int64(2), result.SuccessCount())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "state(9)", State(9).String())
}
