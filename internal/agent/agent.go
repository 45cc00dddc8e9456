// Package agent manages the runner processes of one machine. It starts and
// stops runners on request, keeps their output in log files and registers
// itself in the cache service so the console can find it.
package agent

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/oracle/coherence-sub061/internal/cache"
)

const (
	// RegistryCache is the cache agents register themselves in.
	RegistryCache = "agents"

	// DefaultPollInterval is how often dead runners are pruned.
	DefaultPollInterval = 50 * time.Millisecond

	stopTimeout = 5 * time.Second
)

// Options configures an Agent.
type Options struct {
	Name         string // defaults to a random id
	Address      string // control API address advertised in the registry
	Command      string // runner command line
	ConsoleAddr  string // appended to the runner command
	LogDir       string
	PollInterval time.Duration
}

// Registration is the registry record of an agent.
type Registration struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Host      string    `json:"host"`
	Runners   int       `json:"runners"`
	StartedAt time.Time `json:"startedAt"`
}

// Agent owns a list of runner processes.
type Agent struct {
	opts      Options
	args      []string
	svc       cache.Service
	log       *logrus.Entry
	startedAt time.Time

	mu        sync.Mutex
	processes []*ProcessInfo // oldest first

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates an agent. svc may be nil, in which case the agent does not register.
func New(opts Options, svc cache.Service, log *logrus.Entry) (*Agent, error) {
	args, err := shellwords.Parse(opts.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing runner command %q", opts.Command)
	}
	if len(args) == 0 {
		return nil, errors.New("runner command is empty")
	}
	if opts.Name == "" {
		opts.Name = uuid.New().String()
	}
	if opts.LogDir == "" {
		opts.LogDir = os.TempDir()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logrus.WithField("component", "agent")
	}
	return &Agent{
		opts:   opts,
		args:   args,
		svc:    svc,
		log:    log.WithField("agent", opts.Name),
		stopCh: make(chan struct{}),
	}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.opts.Name }

// Start registers the agent and begins polling its runners.
func (a *Agent) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	if err := a.register(ctx); err != nil {
		return err
	}
	a.wg.Add(1)
	go a.poll()
	a.log.WithField("command", a.opts.Command).Info("agent started")
	return nil
}

// StartRunners spawns n runner processes and returns their ids. Processes
// started before a failure keep running.
func (a *Agent) StartRunners(ctx context.Context, n int) ([]string, error) {
	if n < 1 {
		return nil, errors.Errorf("runner count must be positive, got %d", n)
	}
	if err := os.MkdirAll(a.opts.LogDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	ids := make([]string, 0, n)
	var spawnErr error
	for i := 0; i < n; i++ {
		id := uuid.New().String()
		p, err := spawn(id, a.runnerArgs(id), a.opts.LogDir)
		if err != nil {
			spawnErr = err
			break
		}
		a.mu.Lock()
		a.processes = append(a.processes, p)
		a.mu.Unlock()
		ids = append(ids, id)
		a.log.WithFields(logrus.Fields{"runner": id, "pid": p.Info().PID}).Info("runner started")
	}
	a.refresh(ctx)
	return ids, spawnErr
}

func (a *Agent) runnerArgs(id string) []string {
	args := append([]string(nil), a.args...)
	args = append(args, "--name", id)
	if a.opts.ConsoleAddr != "" {
		args = append(args, a.opts.ConsoleAddr)
	}
	return args
}

// StopRunners stops up to n runners, oldest first, and returns how many were stopped.
func (a *Agent) StopRunners(ctx context.Context, n int) (int, error) {
	a.mu.Lock()
	if n > len(a.processes) {
		n = len(a.processes)
	}
	if n < 0 {
		n = 0
	}
	victims := a.processes[:n]
	a.processes = append([]*ProcessInfo(nil), a.processes[n:]...)
	a.mu.Unlock()

	var result error
	for _, p := range victims {
		if err := p.Stop(stopTimeout); err != nil {
			result = multierror.Append(result, err)
		}
		a.log.WithField("runner", p.ID).Info("runner stopped")
	}
	a.refresh(ctx)
	return len(victims), result
}

// Runners lists the live runner processes, oldest first.
func (a *Agent) Runners() []RunnerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RunnerInfo, 0, len(a.processes))
	for _, p := range a.processes {
		out = append(out, p.Info())
	}
	return out
}

// Shutdown stops polling, stops every runner and removes the registration.
func (a *Agent) Shutdown(ctx context.Context) error {
	var result error
	a.once.Do(func() {
		close(a.stopCh)
		a.wg.Wait()

		a.mu.Lock()
		n := len(a.processes)
		a.mu.Unlock()
		if _, err := a.StopRunners(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
		if a.svc != nil {
			if err := a.svc.Remove(ctx, RegistryCache, a.opts.Name); err != nil {
				result = multierror.Append(result, errors.Wrap(err, "deregistering agent"))
			}
		}
		a.log.Info("agent stopped")
	})
	return result
}

// poll prunes runners that exited on their own.
func (a *Agent) poll() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if a.prune() > 0 {
				a.refresh(context.Background())
			}
		}
	}
}

func (a *Agent) prune() int {
	a.mu.Lock()
	var dead []*ProcessInfo
	live := a.processes[:0]
	for _, p := range a.processes {
		if p.Alive() {
			live = append(live, p)
		} else {
			dead = append(dead, p)
		}
	}
	a.processes = live
	a.mu.Unlock()

	for _, p := range dead {
		log := a.log.WithField("runner", p.ID)
		if err := p.ExitErr(); err != nil {
			log = log.WithError(err)
		}
		log.Warn("runner exited")
		if err := p.Stop(stopTimeout); err != nil {
			a.log.WithError(err).Warn("cleaning up runner")
		}
	}
	return len(dead)
}

func (a *Agent) registration() Registration {
	host, _ := os.Hostname()
	a.mu.Lock()
	n := len(a.processes)
	a.mu.Unlock()
	return Registration{
		Name:      a.opts.Name,
		Address:   a.opts.Address,
		Host:      host,
		Runners:   n,
		StartedAt: a.startedAt,
	}
}

func (a *Agent) register(ctx context.Context) error {
	if a.svc == nil {
		return nil
	}
	data, err := json.Marshal(a.registration())
	if err != nil {
		return errors.Wrap(err, "encoding registration")
	}
	return errors.Wrap(a.svc.Put(ctx, RegistryCache, a.opts.Name, data), "registering agent")
}

func (a *Agent) refresh(ctx context.Context) {
	if err := a.register(ctx); err != nil {
		a.log.WithError(err).Warn("updating registration")
	}
}

// Registered lists the agents registered in svc.
func Registered(ctx context.Context, svc cache.Service) ([]Registration, error) {
	entries, err := svc.Query(ctx, RegistryCache, cache.All)
	if err != nil {
		return nil, errors.Wrap(err, "listing agents")
	}
	out := make([]Registration, 0, len(entries))
	for key, data := range entries {
		var r Registration
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrapf(err, "decoding agent %s", key)
		}
		out = append(out, r)
	}
	sortRegistrations(out)
	return out, nil
}
