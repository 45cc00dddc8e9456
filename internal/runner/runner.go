// Package runner implements the worker process: it connects to the console,
// executes the jobs it receives against the cache service and reports results.
package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/coordinator"
	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/transport"
)

// Runner executes jobs sent by one console.
type Runner struct {
	name string
	svc  cache.Service
	pool *coordinator.Pool
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a runner named name working against svc.
func New(name string, svc cache.Service, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.WithField("component", "runner")
	}
	log = log.WithField("runner", name)
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		name:   name,
		svc:    svc,
		pool:   coordinator.NewPool(svc, log),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the runner name.
func (r *Runner) Name() string { return r.name }

// Run connects to the console at addr and serves it until ctx is done or the
// console closes the channel. Running jobs are interrupted on return.
func (r *Runner) Run(ctx context.Context, addr string, dialTimeout time.Duration) error {
	dialCtx := ctx
	if dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	ch, err := transport.Dial(dialCtx, addr, r.name, r.Handle, r.log)
	if err != nil {
		return errors.Wrap(err, "connecting to console")
	}
	r.log.WithField("console", addr).Info("connected")

	select {
	case <-ctx.Done():
		r.log.Info("shutting down")
	case <-ch.Done():
		r.log.Info("console closed the channel")
	}
	r.Shutdown()
	return ch.Close()
}

// Shutdown interrupts every running job and waits for them to finish.
func (r *Runner) Shutdown() {
	r.cancel()
	r.pool.InterruptAll()
	r.pool.Wait()
}

// Handle dispatches one message from the console. Jobs, loads and index
// requests run on their own goroutines; sample requests are answered inline.
func (r *Runner) Handle(ch *transport.Channel, m *protocol.Message) {
	log := r.log.WithField("kind", m.Kind)
	switch {
	case m.Kind.IsJob():
		if err := protocol.Validate(m.Kind, m.Job); err != nil {
			log.WithError(err).Warn("rejecting job")
			return
		}
		job := m.Job
		log = log.WithField("job", job.JobID)
		log.WithFields(logrus.Fields{"start": job.StartKey, "size": job.JobSize}).Info("starting job")
		r.pool.Submit(r.ctx, m.Kind, job, func(result *collector.TestResult, err error) {
			if err != nil {
				log.WithError(err).Error("job failed, no result reported")
				return
			}
			if err := ch.Send(protocol.NewResult(job.JobID, r.name, result)); err != nil {
				log.WithError(err).Error("reporting result")
				return
			}
			log.WithFields(logrus.Fields{"ok": result.SuccessCount(), "fail": result.FailureCount()}).Info("job finished")
		})

	case m.Kind == protocol.KindSampleRequest:
		snapshots := r.pool.Snapshots(m.Sample.JobID)
		if snapshots == nil {
			snapshots = []*collector.TestResult{}
		}
		r.reply(ch, m, snapshots, nil)

	case m.Kind == protocol.KindLoadRequest:
		go func() {
			if err := protocol.Validate(m.Kind, m.Job); err != nil {
				r.reply(ch, m, nil, err)
				return
			}
			n, err := protocol.Load(r.ctx, m.Job, r.svc)
			log.WithFields(logrus.Fields{"cache": m.Job.CacheName, "entries": n}).Info("load finished")
			r.reply(ch, m, n, err)
		}()

	case m.Kind == protocol.KindIndexRequest:
		go func() {
			if err := protocol.Validate(m.Kind, m.Job); err != nil {
				r.reply(ch, m, nil, err)
				return
			}
			err := protocol.Index(r.ctx, m.Job, r.svc)
			r.reply(ch, m, m.Job.AddIndex, err)
		}()

	default:
		log.Warn("ignoring unexpected message")
	}
}

func (r *Runner) reply(ch *transport.Channel, m *protocol.Message, v interface{}, err error) {
	var resp *protocol.Response
	if err != nil {
		resp = protocol.NewFailure(m.ID, err)
	} else if resp, err = protocol.NewResponse(m.ID, v); err != nil {
		resp = protocol.NewFailure(m.ID, err)
	}
	if err := ch.Reply(resp); err != nil {
		r.log.WithError(err).WithField("request", m.ID).Warn("replying")
	}
}
