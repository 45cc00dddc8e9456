// Package progress prints live statistics while a job runs.
package progress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/collector"
)

// DefaultPeriod is the time between two sampling rounds.
const DefaultPeriod = 10 * time.Second

// Sampler gathers one round of statistics. A false result skips the round.
type Sampler func(ctx context.Context) (collector.Sample, bool, error)

// Progress calls a Sampler periodically and prints each accepted round.
// Every write to the output, including Print and Printf, is serialized.
type Progress struct {
	sampler Sampler
	period  time.Duration
	log     *logrus.Entry

	stopCh  chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	rounds  atomic.Int32

	quiet  bool
	output io.Writer
	mu     sync.Mutex
}

// NewProgress creates a Progress sampling every period. A quiet Progress
// samples nothing and prints nothing.
func NewProgress(sampler Sampler, period time.Duration, quiet bool) *Progress {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Progress{
		sampler: sampler,
		period:  period,
		log:     logrus.WithField("component", "progress"),
		quiet:   quiet,
		output:  os.Stdout,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// Start begins sampling until Stop is called or ctx is done.
func (p *Progress) Start(ctx context.Context) {
	if p.quiet || p.sampler == nil || p.started.Swap(true) {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctx)
}

func (p *Progress) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample(ctx)
		}
	}
}

func (p *Progress) sample(ctx context.Context) {
	s, ok, err := p.sampler(ctx)
	if err != nil {
		p.log.WithError(err).Warn("sampling failed")
		return
	}
	if !ok {
		p.log.Debug("skipping sampling round")
		return
	}
	p.rounds.Add(1)

	var buf bytes.Buffer
	collector.FormatSample(&buf, s)
	p.mu.Lock()
	_, _ = p.output.Write(buf.Bytes())
	p.mu.Unlock()
}

// Rounds returns the number of rounds printed so far.
func (p *Progress) Rounds() int {
	return int(p.rounds.Load())
}

// Stop ends sampling and waits for an in-flight round to finish.
func (p *Progress) Stop() {
	if !p.started.Load() || p.stopped.Swap(true) {
		return
	}
	close(p.stopCh)
	<-p.done
}

func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintln(p.output, message)
	p.mu.Unlock()
}

func (p *Progress) Printf(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, format+"\n", args...)
	p.mu.Unlock()
}
