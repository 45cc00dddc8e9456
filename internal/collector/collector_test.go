package collector

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(clock *fakeClock, successes int64, elapsed time.Duration) *TestResult {
	r := NewTestResultWithClock(clock)
	r.Start()
	r.IncSuccessCount(successes)
	clock.Advance(elapsed)
	r.Stop()
	return r
}

func TestCollector_LifetimeAndDelta(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector()

	first, ok, err := c.Collect(map[string][]*TestResult{
		"r1": {snapshot(clock, 10, time.Second), snapshot(clock, 10, time.Second)},
		"r2": {snapshot(clock, 5, time.Second)},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, first.Round)
	assert.Equal(t, 3, first.Threads)
	assert.Equal(t, int64(25), first.Lifetime.SuccessCount())
	assert.Equal(t, int64(25), first.Delta.SuccessCount())

	second, ok, err := c.Collect(map[string][]*TestResult{
		"r1": {snapshot(clock, 20, 2*time.Second), snapshot(clock, 20, 2*time.Second)},
		"r2": {snapshot(clock, 10, 2*time.Second)},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, second.Round)
	assert.Equal(t, int64(50), second.Lifetime.SuccessCount())
	assert.Equal(t, int64(25), second.Delta.SuccessCount())
	assert.Equal(t, time.Second, second.Delta.Duration())
}

func TestCollector_SkipsRoundWhenSampleCountRegresses(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector()

	_, ok, err := c.Collect(map[string][]*TestResult{
		"r1": {snapshot(clock, 1, time.Second), snapshot(clock, 1, time.Second)},
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Collect(map[string][]*TestResult{
		"r1": {snapshot(clock, 5, time.Second)},
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.Previous().SuccessCount(), "skipped round must not replace history")

	_, ok, err = c.Collect(map[string][]*TestResult{
		"r1": {snapshot(clock, 6, time.Second)},
	})
	require.NoError(t, err)
	assert.True(t, ok, "a steady count after the regression is accepted")
}

func TestCollector_RegressionResetsEverySource(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector()

	_, ok, err := c.Collect(map[string][]*TestResult{
		"a": {snapshot(clock, 1, time.Second), snapshot(clock, 1, time.Second)},
		"b": {snapshot(clock, 1, time.Second), snapshot(clock, 1, time.Second)},
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Collect(map[string][]*TestResult{"a": {}, "b": {}})
	require.NoError(t, err)
	assert.False(t, ok, "both sources regressed")

	sample, ok, err := c.Collect(map[string][]*TestResult{"a": {}, "b": {}})
	require.NoError(t, err)
	assert.True(t, ok, "one skipped round resets every source")
	assert.Equal(t, 2, sample.Round)
}

func TestCollector_MissingSourceSkipsOneRound(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector()

	_, ok, err := c.Collect(map[string][]*TestResult{
		"a": {snapshot(clock, 1, time.Second)},
		"b": {snapshot(clock, 1, time.Second)},
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Collect(map[string][]*TestResult{"a": {snapshot(clock, 2, time.Second)}})
	require.NoError(t, err)
	assert.False(t, ok)

	sample, ok, err := c.Collect(map[string][]*TestResult{"a": {snapshot(clock, 3, time.Second)}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, sample.Threads)
	assert.Equal(t, int64(3), sample.Lifetime.SuccessCount())
}

func TestComputeSample_EmptySnapshots(t *testing.T) {
	s, err := ComputeSample(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Threads)
	assert.Equal(t, int64(0), s.Lifetime.OperationCount())
}

func TestMerge(t *testing.T) {
	total, err := Merge([]*TestResult{resultWithSuccesses(2), resultWithSuccesses(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total.SuccessCount())
}

func TestWriteReport(t *testing.T) {
	clock := newFakeClock()
	r := NewTestResultWithClock(clock)
	r.Start()
	r.IncSuccessCount(10)
	r.IncByteCount(1000)
	r.AddLatency(4 * time.Millisecond)
	clock.Advance(2 * time.Second)
	r.Stop()

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, r))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, ReportHeader, lines[0])
	assert.Equal(t, "2000\t10\t0\t1000\t5\t500\t4.00", lines[1])
	assert.Equal(t, r.Latency().TSVHeader(), lines[2])
	assert.Equal(t, r.Latency().TSVRow(), lines[3])
}

func TestFormatText(t *testing.T) {
	clock := newFakeClock()
	r := snapshot(clock, 1500, 3*time.Second)
	r.AddLatency(12 * time.Millisecond)

	var buf bytes.Buffer
	FormatText(&buf, "Job put", r, &ThresholdResults{
		Passed:  false,
		Results: []ThresholdResult{{Name: "rate", Passed: false, Threshold: ">= 1000/s", Actual: "500/s"}},
	})
	out := buf.String()

	assert.Contains(t, out, "Job put")
	assert.Contains(t, out, "Successes:   1,500")
	assert.Contains(t, out, "Rate:        500 ops/s")
	assert.Contains(t, out, "✗ rate >= 1000/s (actual: 500/s)")
}

func TestFormatText_NilResult(t *testing.T) {
	var buf bytes.Buffer
	FormatText(&buf, "x", nil, nil)
	assert.Equal(t, "No results collected\n", buf.String())
}

func TestFormatSample(t *testing.T) {
	clock := newFakeClock()
	s, err := ComputeSample(map[string][]*TestResult{"r": {snapshot(clock, 10, time.Second)}}, nil)
	require.NoError(t, err)
	s.Round = 4

	var buf bytes.Buffer
	FormatSample(&buf, s)

	assert.Contains(t, buf.String(), "[004] threads=1 lifetime: ops=10 ok=10 fail=0 rate=10/s")
	assert.Contains(t, buf.String(), "[004] threads=1 delta:")
}
