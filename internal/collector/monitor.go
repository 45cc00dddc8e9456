package collector

import (
	"sync"
	"time"
)

// Monitor waits for a known number of results from concurrent sources and
// aggregates them. One Monitor serves one job.
type Monitor struct {
	mu        sync.Mutex
	clock     Clock
	expected  int
	received  int
	aggregate *TestResult
	changed   chan struct{} // closed and replaced on every Notify
	done      chan struct{} // closed when the expected count is reached
	err       error
}

// NewMonitor creates a Monitor expecting no results.
func NewMonitor() *Monitor {
	return NewMonitorWithClock(realClock{})
}

// NewMonitorWithClock creates a Monitor whose aggregate is timed by clock.
func NewMonitorWithClock(clock Clock) *Monitor {
	m := &Monitor{clock: clock}
	m.reset(0)
	return m
}

func (m *Monitor) reset(n int) {
	m.expected = n
	m.received = 0
	m.err = nil
	m.aggregate = NewTestResultWithClock(m.clock)
	m.changed = make(chan struct{})
	m.done = make(chan struct{})
}

// SetResultCount resets the monitor to expect n results and starts the aggregate timer.
// A count of zero or less completes immediately.
func (m *Monitor) SetResultCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.changed)
	m.reset(n)
	m.aggregate.Start()
	if n <= 0 {
		m.aggregate.Stop()
		close(m.done)
	}
}

// Notify merges one result. The Nth result stops the aggregate timer and
// releases every waiter. Results beyond the expected count are merged but
// change nothing else.
func (m *Monitor) Notify(result *TestResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.aggregate.Add(result); err != nil && m.err == nil {
		m.err = err
	}
	m.received++
	if m.received == m.expected {
		m.aggregate.Stop()
		close(m.done)
	}
	close(m.changed)
	m.changed = make(chan struct{})
}

// WaitAll blocks until every expected result arrived or timeout elapsed.
// A zero timeout waits forever. It reports whether all results arrived.
func (m *Monitor) WaitAll(timeout time.Duration) bool {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Wait blocks until at least n results arrived or timeout elapsed, re-checking
// the count after every notification. A zero timeout waits forever.
func (m *Monitor) Wait(n int, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		m.mu.Lock()
		received, changed := m.received, m.changed
		m.mu.Unlock()
		if received >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		}
	}
}

// Done is closed when every expected result arrived.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Expected returns the expected result count.
func (m *Monitor) Expected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expected
}

// Received returns the number of results notified so far.
func (m *Monitor) Received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Result returns a copy of the aggregate.
func (m *Monitor) Result() *TestResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregate.Clone()
}

// Err returns the first merge error, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
