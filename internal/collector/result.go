package collector

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/oracle/coherence-sub061/internal/wire"
)

// Clock is the time source of a TestResult. core.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const (
	// DefaultLatencyBuckets sizes the latency histogram of a new TestResult.
	// Scaled index 50 is 100 seconds.
	DefaultLatencyBuckets = 51
	// LatencyUnits labels latency histograms.
	LatencyUnits = "ms"
)

// TestResult aggregates the outcome of one run: operation counters, bytes
// moved, wall clock duration and a latency histogram in milliseconds.
//
// A TestResult has one writer (the goroutine running the test). Other
// goroutines read it only through Clone, which is race-free because every
// field is accessed atomically.
type TestResult struct {
	clock Clock

	started       atomic.Bool
	startNanos    atomic.Int64
	durationNanos atomic.Int64 // frozen duration once stopped, or merged duration when never started
	stopped       atomic.Bool

	successCount atomic.Int64
	failureCount atomic.Int64
	byteCount    atomic.Int64

	latency *Histogram
}

// NewTestResult creates an empty result with a scaled millisecond latency histogram.
func NewTestResult() *TestResult {
	return NewTestResultWithClock(realClock{})
}

// NewTestResultWithClock creates an empty result timed by clock (for testing).
func NewTestResultWithClock(clock Clock) *TestResult {
	return &TestResult{
		clock:   clock,
		latency: NewScaledHistogram(DefaultLatencyBuckets, LatencyUnits),
	}
}

// Start records the origin timestamp. Only the first call has an effect.
// The origin is stored before started is set so readers never see a
// started result without it.
func (r *TestResult) Start() {
	if r.started.Load() {
		return
	}
	r.startNanos.Store(r.clock.Now().UnixNano())
	r.started.Store(true)
}

// Stop freezes the duration. It is a no-op before Start and after the first Stop.
func (r *TestResult) Stop() {
	if !r.started.Load() {
		return
	}
	if r.stopped.CompareAndSwap(false, true) {
		r.durationNanos.Store(r.clock.Now().UnixNano() - r.startNanos.Load())
	}
}

// Started reports whether Start has been called.
func (r *TestResult) Started() bool {
	return r.started.Load()
}

// Stopped reports whether the duration is frozen.
func (r *TestResult) Stopped() bool {
	return r.stopped.Load()
}

// Duration returns the frozen duration, the elapsed time of a running result,
// or for a result that was never started the largest duration merged into it.
func (r *TestResult) Duration() time.Duration {
	if !r.started.Load() || r.stopped.Load() {
		return time.Duration(r.durationNanos.Load())
	}
	return time.Duration(r.clock.Now().UnixNano() - r.startNanos.Load())
}

// DurationMillis returns Duration in whole milliseconds.
func (r *TestResult) DurationMillis() int64 {
	return r.Duration().Milliseconds()
}

// IncSuccessCount adds n successful operations.
func (r *TestResult) IncSuccessCount(n int64) { r.successCount.Add(n) }

// IncFailureCount adds n failed operations.
func (r *TestResult) IncFailureCount(n int64) { r.failureCount.Add(n) }

// IncByteCount adds n bytes moved.
func (r *TestResult) IncByteCount(n int64) { r.byteCount.Add(n) }

// AddLatency records one operation latency.
func (r *TestResult) AddLatency(d time.Duration) { r.latency.AddSample(d.Milliseconds()) }

// SuccessCount returns the number of successful operations.
func (r *TestResult) SuccessCount() int64 { return r.successCount.Load() }

// FailureCount returns the number of failed operations.
func (r *TestResult) FailureCount() int64 { return r.failureCount.Load() }

// ByteCount returns the number of bytes moved.
func (r *TestResult) ByteCount() int64 { return r.byteCount.Load() }

// OperationCount returns successes plus failures.
func (r *TestResult) OperationCount() int64 { return r.SuccessCount() + r.FailureCount() }

// Latency returns the live latency histogram.
func (r *TestResult) Latency() *Histogram { return r.latency }

// Rate returns operations per second.
func (r *TestResult) Rate() int64 {
	return perSecond(r.OperationCount(), r.DurationMillis())
}

// Throughput returns bytes per second.
func (r *TestResult) Throughput() int64 {
	return perSecond(r.ByteCount(), r.DurationMillis())
}

// perSecond returns n*1000/millis, dividing first when the product would overflow.
func perSecond(n, millis int64) int64 {
	if millis <= 0 {
		return 0
	}
	if n > math.MaxInt64/1000 {
		return n / millis * 1000
	}
	return n * 1000 / millis
}

// Add merges other into r. The merged duration is the longest of the two; it
// only shows through Duration when r itself is not being timed.
func (r *TestResult) Add(other *TestResult) error {
	if other == nil {
		return nil
	}
	if err := r.latency.AddSamples(other.latency); err != nil {
		return err
	}
	r.successCount.Add(other.SuccessCount())
	r.failureCount.Add(other.FailureCount())
	r.byteCount.Add(other.ByteCount())
	if !r.Started() {
		d := int64(other.Duration())
		for {
			cur := r.durationNanos.Load()
			if d <= cur || r.durationNanos.CompareAndSwap(cur, d) {
				break
			}
		}
	}
	return nil
}

// AddAll folds a batch of results into r.
func (r *TestResult) AddAll(results []*TestResult) error {
	for _, other := range results {
		if err := r.Add(other); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a stopped deep copy whose duration is r's duration at the time of the call.
func (r *TestResult) Clone() *TestResult {
	c := &TestResult{
		clock:   r.clock,
		latency: r.latency.Clone(),
	}
	c.durationNanos.Store(int64(r.Duration()))
	c.successCount.Store(r.SuccessCount())
	c.failureCount.Store(r.FailureCount())
	c.byteCount.Store(r.ByteCount())
	return c
}

// ComputeDelta returns r minus previous. A nil previous yields a copy of r.
func (r *TestResult) ComputeDelta(previous *TestResult) (*TestResult, error) {
	if previous == nil {
		return r.Clone(), nil
	}
	latency, err := r.latency.ComputeDelta(previous.latency)
	if err != nil {
		return nil, err
	}
	d := &TestResult{
		clock:   r.clock,
		latency: latency,
	}
	d.durationNanos.Store(int64(r.Duration() - previous.Duration()))
	d.successCount.Store(r.SuccessCount() - previous.SuccessCount())
	d.failureCount.Store(r.FailureCount() - previous.FailureCount())
	d.byteCount.Store(r.ByteCount() - previous.ByteCount())
	return d, nil
}

// WriteProperties implements wire.Writable. Only the frozen view is written,
// so the receiver sees a stopped result.
func (r *TestResult) WriteProperties(p wire.Properties) error {
	latency, err := wire.Encode(r.latency)
	if err != nil {
		return err
	}
	return wire.NewWriter(p).
		Put(0, int64(r.Duration())).
		Put(1, r.SuccessCount()).
		Put(2, r.FailureCount()).
		Put(3, r.ByteCount()).
		Put(4, latency).
		Err()
}

// ReadProperties implements wire.Readable.
func (r *TestResult) ReadProperties(p wire.Properties) error {
	var (
		duration, success, failure, bytes int64
		latency                           wire.Properties
	)
	err := wire.NewReader(p).
		Get(0, &duration).
		Get(1, &success).
		Get(2, &failure).
		Get(3, &bytes).
		Get(4, &latency).
		Err()
	if err != nil {
		return err
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	r.latency = NewScaledHistogram(DefaultLatencyBuckets, LatencyUnits)
	if latency != nil {
		if err := r.latency.ReadProperties(latency); err != nil {
			return err
		}
	}
	r.started.Store(false)
	r.startNanos.Store(0)
	r.stopped.Store(false)
	r.durationNanos.Store(duration)
	r.successCount.Store(success)
	r.failureCount.Store(failure)
	r.byteCount.Store(bytes)
	return nil
}

// MarshalJSON encodes the result as indexed properties.
func (r *TestResult) MarshalJSON() ([]byte, error) {
	p, err := wire.Encode(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *TestResult) UnmarshalJSON(data []byte) error {
	var p wire.Properties
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return r.ReadProperties(p)
}
