// Package collector aggregates test results and computes live statistics.
package collector

import (
	"sync"
)

// Sample is one round of live statistics gathered from every participant of a job.
type Sample struct {
	Round    int
	Threads  int
	Lifetime *TestResult
	Delta    *TestResult
}

// Collector turns successive rounds of per-source snapshots into lifetime and
// delta statistics. Sources are identified by name (one per runner).
type Collector struct {
	mu         sync.Mutex
	round      int
	previous   *TestResult
	lastCounts map[string]int
}

// NewCollector creates a Collector with no history.
func NewCollector() *Collector {
	return &Collector{
		lastCounts: make(map[string]int),
	}
}

// Collect merges one round of snapshots. It returns false without updating
// the history when any source reports fewer snapshots than the previous round,
// since a source whose threads finished cannot be told apart from an undercount.
// A source missing from the round counts as zero snapshots. Every source's
// count is recorded either way, so one skipped round is enough to recover.
func (c *Collector) Collect(snapshots map[string][]*TestResult) (Sample, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	regressed := false
	for source, count := range c.lastCounts {
		if len(snapshots[source]) < count {
			regressed = true
			break
		}
	}
	counts := make(map[string]int, len(snapshots))
	for source, results := range snapshots {
		counts[source] = len(results)
	}
	if regressed {
		c.lastCounts = counts
		return Sample{}, false, nil
	}

	sample, err := ComputeSample(snapshots, c.previous)
	if err != nil {
		return Sample{}, false, err
	}
	c.round++
	sample.Round = c.round
	c.previous = sample.Lifetime
	c.lastCounts = counts
	return sample, true, nil
}

// Previous returns the lifetime aggregate of the last accepted round, or nil.
func (c *Collector) Previous() *TestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.previous == nil {
		return nil
	}
	return c.previous.Clone()
}
