package console

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/progress"
	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/transport"
)

// ErrNoRunners is returned when a job is submitted with no runner connected.
var ErrNoRunners = errors.New("no runners connected")

// share is the part of a job sent to one runner.
type share struct {
	runner *transport.Channel
	msg    *protocol.Message
}

// split divides m among the connected runners in connection order.
func (c *Console) split(m *protocol.Message) ([]share, error) {
	runners := c.Runners()
	if len(runners) == 0 {
		return nil, ErrNoRunners
	}
	var shares []share
	for i, ch := range runners {
		if part := m.ForClient(i, len(runners)); part != nil {
			shares = append(shares, share{runner: ch, msg: part})
		}
	}
	return shares, nil
}

// RunJob validates and dispatches a job, samples it while it runs and
// returns the aggregate once every runner reported. On timeout the partial
// aggregate is returned with complete set to false.
func (c *Console) RunJob(ctx context.Context, kind protocol.Kind, params *protocol.JobParams) (result *collector.TestResult, complete bool, err error) {
	if err := protocol.Validate(kind, params); err != nil {
		return nil, false, err
	}
	params = params.Clone()
	params.JobID = c.factory.NextID()
	c.mu.Lock()
	params.OpsPerSecond = c.throttle
	c.mu.Unlock()

	msg, err := c.factory.NewJob(kind, params)
	if err != nil {
		return nil, false, err
	}
	shares, err := c.split(msg)
	if err != nil {
		return nil, false, err
	}

	log := c.log.WithFields(logrus.Fields{"job": params.JobID, "kind": kind})
	monitor := collector.NewMonitor()
	monitor.SetResultCount(len(shares))
	c.mu.Lock()
	c.jobs[params.JobID] = monitor
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.jobs, params.JobID)
		c.mu.Unlock()
	}()

	participants := make([]*transport.Channel, 0, len(shares))
	for _, s := range shares {
		if err := s.runner.Send(s.msg); err != nil {
			log.WithError(err).WithField("runner", s.runner.Name()).Warn("dispatch failed, share dropped")
			monitor.Notify(collector.NewTestResult())
			continue
		}
		participants = append(participants, s.runner)
	}
	c.metrics.jobDispatched(kind)
	fmt.Fprintf(c.out, "job %d: %s dispatched to %d runner(s)\n", params.JobID, kind, len(participants))

	p := progress.NewProgress(c.sampler(params.JobID, participants), c.cfg.SamplePeriod, c.cfg.Quiet)
	p.SetOutput(c.out)
	p.Start(ctx)
	complete = c.await(ctx, monitor)
	p.Stop()

	result = monitor.Result()
	if err := monitor.Err(); err != nil {
		return nil, false, errors.Wrap(err, "merging results")
	}
	if !complete {
		log.WithFields(logrus.Fields{"received": monitor.Received(), "expected": monitor.Expected()}).Warn("job timed out")
	}
	c.metrics.jobCompleted(result)
	c.mu.Lock()
	c.last = result
	c.mu.Unlock()
	return result, complete, nil
}

// await waits for the monitor, bounded by the job timeout and ctx.
func (c *Console) await(ctx context.Context, monitor *collector.Monitor) bool {
	var deadline <-chan time.Time
	if c.cfg.JobTimeout > 0 {
		timer := time.NewTimer(c.cfg.JobTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-monitor.Done():
		return true
	case <-deadline:
	case <-ctx.Done():
	}
	return false
}

// sampler asks every participant for snapshots of the job's threads and
// merges them into lifetime and delta statistics. A runner that fails to
// answer is left out of the round; one that disconnected is dropped for
// the rest of the job.
func (c *Console) sampler(jobID int64, participants []*transport.Channel) progress.Sampler {
	coll := collector.NewCollector()
	live := append([]*transport.Channel(nil), participants...)
	log := c.log.WithField("job", jobID)
	return func(ctx context.Context) (collector.Sample, bool, error) {
		live = connected(live, log)
		if len(live) == 0 {
			return collector.Sample{}, false, nil
		}

		var mu sync.Mutex
		snapshots := make(map[string][]*collector.TestResult, len(live))
		var g errgroup.Group
		for _, ch := range live {
			ch := ch
			g.Go(func() error {
				rctx, cancel := context.WithTimeout(ctx, c.cfg.SamplePeriod)
				defer cancel()
				results, err := requestSnapshots(rctx, ch, c.factory.NewSampleRequest(jobID))
				if err != nil {
					log.WithError(err).WithField("runner", ch.Name()).Warn("runner left out of sampling round")
					return nil
				}
				mu.Lock()
				snapshots[ch.ID()] = results
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			return collector.Sample{}, false, ctx.Err()
		}
		return coll.Collect(snapshots)
	}
}

// connected filters out closed channels.
func connected(channels []*transport.Channel, log *logrus.Entry) []*transport.Channel {
	kept := channels[:0]
	for _, ch := range channels {
		select {
		case <-ch.Done():
			log.WithField("runner", ch.Name()).Info("runner disconnected, no longer sampled")
		default:
			kept = append(kept, ch)
		}
	}
	return kept
}

func requestSnapshots(ctx context.Context, ch *transport.Channel, req *protocol.Message) ([]*collector.TestResult, error) {
	resp, err := ch.Request(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "sampling %s", ch.Name())
	}
	var results []*collector.TestResult
	if err := resp.Decode(&results); err != nil {
		return nil, errors.Wrapf(err, "sampling %s", ch.Name())
	}
	return results, nil
}

// Load fills a cache through the runners, each writing its share of the key
// range, and returns the number of entries written.
func (c *Console) Load(ctx context.Context, params *protocol.JobParams) (int, error) {
	if err := protocol.Validate(protocol.KindLoadRequest, params); err != nil {
		return 0, err
	}
	msg, err := c.factory.NewRequest(protocol.KindLoadRequest, params)
	if err != nil {
		return 0, err
	}
	shares, err := c.split(msg)
	if err != nil {
		return 0, err
	}
	c.metrics.jobDispatched(protocol.KindLoadRequest)

	var mu sync.Mutex
	total := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range shares {
		s := s
		g.Go(func() error {
			resp, err := s.runner.Request(gctx, c.factory.Reassign(s.msg))
			if err != nil {
				return errors.Wrapf(err, "loading through %s", s.runner.Name())
			}
			var n int
			if err := resp.Decode(&n); err != nil {
				return errors.Wrapf(err, "loading through %s", s.runner.Name())
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return total, err
}

// Index adds or removes an index through the first runner.
func (c *Console) Index(ctx context.Context, params *protocol.JobParams) error {
	if err := protocol.Validate(protocol.KindIndexRequest, params); err != nil {
		return err
	}
	msg, err := c.factory.NewRequest(protocol.KindIndexRequest, params)
	if err != nil {
		return err
	}
	shares, err := c.split(msg)
	if err != nil {
		return err
	}
	c.metrics.jobDispatched(protocol.KindIndexRequest)
	s := shares[0]
	resp, err := s.runner.Request(ctx, c.factory.Reassign(s.msg))
	if err != nil {
		return errors.Wrapf(err, "indexing through %s", s.runner.Name())
	}
	return resp.Err()
}

// summarize renders the final report of a job.
func (c *Console) summarize(kind protocol.Kind, result *collector.TestResult, complete bool) string {
	title := fmt.Sprintf("%s results", kind)
	if !complete {
		title += " (incomplete: job timed out)"
	}
	var buf bytes.Buffer
	collector.FormatText(&buf, title, result, c.cfg.Thresholds.Check(result))
	return buf.String()
}
