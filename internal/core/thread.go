package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/collector"
)

// State is the lifecycle position of a TestThread.
type State int32

const (
	StateCreated State = iota
	StateStarted       // goroutine running, waiting for Execute
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ThreadConfig controls how a TestThread runs its Task.
type ThreadConfig struct {
	Name       string
	Iterations int // 0 = until interrupted
	Limiter    Limiter
	Clock      Clock
	Logger     *logrus.Entry
}

// TestThread runs a Task on a dedicated goroutine and owns the TestResult the
// Task writes. Launch is two-phase: Start returns once the goroutine is parked
// waiting for Execute, so a pool can create every thread before releasing any.
type TestThread struct {
	name       string
	task       Task
	iterations int
	limiter    Limiter
	log        *logrus.Entry
	result     *collector.TestResult

	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	ready   chan struct{}
	release chan struct{}
	done    chan struct{}

	startOnce   sync.Once
	executeOnce sync.Once
	err         error // written by the thread goroutine before done is closed
}

// NewTestThread creates a thread in the Created state. Cancelling ctx
// interrupts the thread.
func NewTestThread(ctx context.Context, task Task, cfg ThreadConfig) *TestThread {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(ctx)
	return &TestThread{
		name:       cfg.Name,
		task:       task,
		iterations: cfg.Iterations,
		limiter:    cfg.Limiter,
		log:        log.WithField("thread", cfg.Name),
		result:     collector.NewTestResultWithClock(clock),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		release:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Name returns the thread name.
func (t *TestThread) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *TestThread) State() State { return State(t.state.Load()) }

// Start launches the goroutine and blocks until it waits for Execute.
// Subsequent calls return immediately.
func (t *TestThread) Start() {
	t.startOnce.Do(func() {
		go t.run()
		<-t.ready
	})
}

// Execute releases a started thread. Only the first call has an effect.
func (t *TestThread) Execute() {
	t.executeOnce.Do(func() { close(t.release) })
}

// Interrupt cancels the thread. The loop observes it before the next
// iteration or inside a blocking Task operation.
func (t *TestThread) Interrupt() {
	t.cancel()
}

// Done is closed once the thread reaches StateDone.
func (t *TestThread) Done() <-chan struct{} { return t.done }

// WaitForResult blocks until the thread is done and returns its result, or
// nil when timeout elapses first. A zero timeout waits forever.
func (t *TestThread) WaitForResult(timeout time.Duration) *collector.TestResult {
	if timeout <= 0 {
		<-t.done
		return t.result
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.result
	case <-timer.C:
		return nil
	}
}

// Snapshot returns a copy of the in-flight result without stopping it.
func (t *TestThread) Snapshot() *collector.TestResult {
	return t.result.Clone()
}

// Err returns the error that ended the loop early, if any. It is only
// meaningful once Done is closed.
func (t *TestThread) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *TestThread) run() {
	defer close(t.done)
	defer t.cancel()
	defer t.state.Store(int32(StateDone))

	t.state.Store(int32(StateStarted))
	close(t.ready)

	select {
	case <-t.release:
	case <-t.ctx.Done():
		t.err = t.ctx.Err()
		return
	}

	t.state.Store(int32(StateRunning))
	t.result.Start()
	defer t.result.Stop()

	for i := 0; t.iterations <= 0 || i < t.iterations; i++ {
		if t.ctx.Err() != nil {
			t.err = t.ctx.Err()
			return
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(t.ctx); err != nil {
				t.err = err
				return
			}
		}
		if err := t.runTask(); err != nil {
			if t.ctx.Err() == nil {
				t.log.WithError(err).WithField("iteration", i).Warn("task failed, stopping thread")
			}
			t.err = err
			return
		}
	}
}

func (t *TestThread) runTask() (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.result.IncFailureCount(1)
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return t.task.Run(t.ctx, t.result)
}
