// Package coordinator runs benchmark jobs on a runner: it splits a job's key
// range over TestThreads, releases them together and merges their results.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/core"
	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/ratelimit"
)

// Job is a job whose threads are running.
type Job struct {
	ID      int64
	Kind    protocol.Kind
	threads []*core.TestThread
}

// Snapshots clones the in-flight result of every thread.
func (j *Job) Snapshots() []*collector.TestResult {
	out := make([]*collector.TestResult, len(j.threads))
	for i, t := range j.threads {
		out[i] = t.Snapshot()
	}
	return out
}

func (j *Job) interrupt() {
	for _, t := range j.threads {
		t.Interrupt()
	}
}

// Pool executes jobs against one cache service. It is safe for concurrent use.
type Pool struct {
	svc   cache.Service
	clock core.Clock
	log   *logrus.Entry

	wg          sync.WaitGroup
	activeCount atomic.Int32

	mu   sync.Mutex
	jobs map[int64]*Job
}

// NewPool creates a Pool running tasks against svc.
func NewPool(svc cache.Service, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		svc:   svc,
		clock: core.RealClock{},
		log:   log,
		jobs:  make(map[int64]*Job),
	}
}

// Run executes one job to completion and returns the merged result of its
// threads. When the threads cannot be set up, the ones already started are
// interrupted and no result is returned.
func (p *Pool) Run(ctx context.Context, kind protocol.Kind, params *protocol.JobParams) (*collector.TestResult, error) {
	if !kind.IsJob() {
		return nil, errors.Errorf("%s is not a job", kind)
	}
	slices, iterations := plan(kind, params)
	if len(slices) == 0 {
		return collector.NewTestResult(), nil
	}

	log := p.log.WithFields(logrus.Fields{"job": params.JobID, "kind": kind})
	job := &Job{ID: params.JobID, Kind: kind}
	for i, slice := range slices {
		task, err := protocol.NewTask(kind, params, p.svc, slice, params.JobID<<16+int64(i))
		if err != nil {
			job.interrupt()
			return nil, errors.Wrapf(err, "creating thread %d of job %d", i, params.JobID)
		}
		cfg := core.ThreadConfig{
			Name:       fmt.Sprintf("job-%d-%d", params.JobID, i),
			Iterations: iterations,
			Clock:      p.clock,
			Logger:     log,
		}
		if params.OpsPerSecond > 0 {
			cfg.Limiter = ratelimit.NewRateLimiter(params.OpsPerSecond)
		}
		t := core.NewTestThread(ctx, task, cfg)
		t.Start()
		job.threads = append(job.threads, t)
	}

	p.register(job)
	defer p.unregister(job)

	log.WithField("threads", len(job.threads)).Debug("releasing threads")
	for _, t := range job.threads {
		t.Execute()
	}

	results := make([]*collector.TestResult, 0, len(job.threads))
	for _, t := range job.threads {
		results = append(results, t.WaitForResult(0))
	}
	return collector.Merge(results)
}

// Submit runs a job on its own goroutine and hands the outcome to done.
func (p *Pool) Submit(ctx context.Context, kind protocol.Kind, params *protocol.JobParams, done func(*collector.TestResult, error)) {
	p.wg.Add(1)
	p.activeCount.Add(1)
	go func() {
		defer func() {
			p.activeCount.Add(-1)
			p.wg.Done()
		}()
		defer p.recoverPanic(params.JobID, done)
		result, err := p.Run(ctx, kind, params)
		done(result, err)
	}()
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// ActiveJobs returns the number of submitted jobs still running.
func (p *Pool) ActiveJobs() int {
	return int(p.activeCount.Load())
}

// Snapshots returns the in-flight results of a running job, or nil when the
// job is unknown or finished.
func (p *Pool) Snapshots(jobID int64) []*collector.TestResult {
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return job.Snapshots()
}

// InterruptAll interrupts every running job.
func (p *Pool) InterruptAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, job := range p.jobs {
		job.interrupt()
	}
}

func (p *Pool) register(job *Job) {
	p.mu.Lock()
	p.jobs[job.ID] = job
	p.mu.Unlock()
}

func (p *Pool) unregister(job *Job) {
	p.mu.Lock()
	if p.jobs[job.ID] == job {
		delete(p.jobs, job.ID)
	}
	p.mu.Unlock()
}

// recoverPanic turns a panic in job setup into an error for done.
func (p *Pool) recoverPanic(jobID int64, done func(*collector.TestResult, error)) {
	if r := recover(); r != nil {
		p.log.WithField("job", jobID).Errorf("job panicked: %v", r)
		done(nil, errors.Errorf("panic: %v", r))
	}
}

// plan returns the key slice of each thread and the iteration count.
// Clear runs once on a single thread.
func plan(kind protocol.Kind, params *protocol.JobParams) ([]protocol.Slice, int) {
	if kind == protocol.KindClear {
		return []protocol.Slice{{Start: 0, Size: 1}}, 1
	}
	return params.ThreadSlices(), params.IterationCount
}
