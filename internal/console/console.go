// Package console implements the operator console: it accepts runner
// connections, interprets commands, dispatches jobs to the connected runners
// and reports live and final statistics.
package console

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/config"
	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/template"
	"github.com/oracle/coherence-sub061/internal/transport"
)

const (
	// ChannelPath is where runners connect.
	ChannelPath = "/channel"
	// MetricsPath serves prometheus metrics.
	MetricsPath = "/metrics"
)

// Console is the job scheduler and command interpreter.
type Console struct {
	cfg      config.ConsoleConfig
	registry cache.Service // agent registry, may be nil
	factory  *protocol.Factory
	metrics  *metrics
	server   *transport.Server
	out      *lockedWriter
	log      *logrus.Entry

	mu       sync.Mutex
	runners  map[string]*transport.Channel
	changed  chan struct{} // closed and replaced when runners connect or leave
	jobs     map[int64]*collector.Monitor
	last     *collector.TestResult
	throttle int
	vars     template.Vars
}

// New creates a console writing operator output to out. registry is used to
// find agents and may be nil.
func New(cfg config.ConsoleConfig, registry cache.Service, out io.Writer, log *logrus.Entry) *Console {
	if log == nil {
		log = logrus.WithField("component", "console")
	}
	c := &Console{
		cfg:      cfg,
		registry: registry,
		factory:  protocol.NewFactory(),
		metrics:  newMetrics(),
		out:      &lockedWriter{w: out},
		log:      log,
		runners:  make(map[string]*transport.Channel),
		changed:  make(chan struct{}),
		jobs:     make(map[int64]*collector.Monitor),
		vars:     make(template.Vars),
	}
	c.server = transport.NewServer(c.handle, log)
	c.server.OnConnect(c.connected)
	c.server.OnDisconnect(c.disconnected)
	return c
}

// Handler serves the runner channel endpoint and the metrics endpoint.
func (c *Console) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle(ChannelPath, c.server)
	r.Handle(MetricsPath, c.metrics.handler())
	return r
}

// Serve listens on addr until ctx is done.
func (c *Console) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: c.Handler()}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	c.log.WithField("addr", addr).Info("console listening")

	select {
	case err := <-errs:
		return errors.Wrap(err, "serving console")
	case <-ctx.Done():
	}
	c.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close disconnects every runner.
func (c *Console) Close() {
	for _, ch := range c.Runners() {
		_ = ch.Close()
	}
}

// Runners returns the connected runners in connection order.
func (c *Console) Runners() []*transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*transport.Channel, 0, len(c.runners))
	for _, ch := range c.runners {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt().Equal(out[j].ConnectedAt()) {
			return out[i].ConnectedAt().Before(out[j].ConnectedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// WaitForRunners blocks until at least n runners are connected, timeout
// elapses or ctx is done. A zero timeout waits forever.
func (c *Console) WaitForRunners(ctx context.Context, n int, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		c.mu.Lock()
		count, changed := len(c.runners), c.changed
		c.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// LastResult returns the result of the last completed job, or nil.
func (c *Console) LastResult() *collector.TestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Console) connected(ch *transport.Channel) {
	c.mu.Lock()
	c.runners[ch.ID()] = ch
	c.signal()
	n := len(c.runners)
	c.mu.Unlock()
	c.metrics.runners.Set(float64(n))
	c.log.WithFields(logrus.Fields{"runner": ch.Name(), "runners": n}).Info("runner connected")
}

func (c *Console) disconnected(ch *transport.Channel) {
	c.mu.Lock()
	delete(c.runners, ch.ID())
	c.signal()
	n := len(c.runners)
	c.mu.Unlock()
	c.metrics.runners.Set(float64(n))
	c.log.WithFields(logrus.Fields{"runner": ch.Name(), "runners": n}).Info("runner disconnected")
}

// signal wakes runner waiters. Callers hold mu.
func (c *Console) signal() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// handle receives messages sent by runners.
func (c *Console) handle(ch *transport.Channel, m *protocol.Message) {
	if m.Kind != protocol.KindTestResult {
		c.log.WithFields(logrus.Fields{"runner": ch.Name(), "kind": m.Kind}).Warn("ignoring unexpected message")
		return
	}
	c.mu.Lock()
	monitor, ok := c.jobs[m.Result.JobID]
	c.mu.Unlock()
	if !ok {
		c.log.WithFields(logrus.Fields{"runner": ch.Name(), "job": m.Result.JobID}).Debug("result for finished job")
		return
	}
	monitor.Notify(m.Result.Result)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
