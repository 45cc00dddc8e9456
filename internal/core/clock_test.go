package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle/coherence-sub061/internal/collector"
)

var jobEpoch = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestRealClock_MonotonicSince(t *testing.T) {
	var clock Clock = RealClock{}
	origin := clock.Now()
	time.Sleep(5 * time.Millisecond)

	assert.GreaterOrEqual(t, clock.Since(origin), 5*time.Millisecond)
	assert.False(t, clock.Now().Before(origin))
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	clock := NewFakeClock(jobEpoch)
	assert.Equal(t, jobEpoch, clock.Now())

	clock.Advance(1500 * time.Millisecond)
	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 2*time.Second, clock.Since(jobEpoch))

	rewound := jobEpoch.Add(-time.Minute)
	clock.Set(rewound)
	assert.Equal(t, rewound, clock.Now())
	assert.Equal(t, -time.Minute, clock.Since(jobEpoch))
}

func TestFakeClock_ConcurrentAdvanceAndNow(t *testing.T) {
	clock := NewFakeClock(jobEpoch)

	const writers, steps = 4, 250
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < steps; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}

	readerDone := make(chan bool)
	go func() {
		ordered := true
		last := clock.Now()
		for i := 0; i < writers*steps; i++ {
			now := clock.Now()
			if now.Before(last) {
				ordered = false
			}
			last = now
		}
		readerDone <- ordered
	}()

	wg.Wait()
	assert.True(t, <-readerDone, "Now must never go backwards while only Advance runs")
	assert.Equal(t, writers*steps*time.Millisecond, clock.Since(jobEpoch))
}

func TestFakeClock_TimesTestResult(t *testing.T) {
	clock := NewFakeClock(jobEpoch)
	result := collector.NewTestResultWithClock(clock)

	result.Start()
	clock.Advance(750 * time.Millisecond)
	assert.Equal(t, 750*time.Millisecond, result.Duration(), "a running result reads the clock live")

	clock.Advance(250 * time.Millisecond)
	result.Stop()
	clock.Advance(time.Hour)

	require.True(t, result.Stopped())
	assert.Equal(t, time.Second, result.Duration())
}
