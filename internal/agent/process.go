package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ProcessInfo is one runner process and the files its output goes to.
type ProcessInfo struct {
	ID        string
	StartedAt time.Time
	StdoutLog string
	StderrLog string

	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	exited  chan struct{}
	exitErr error // set before exited is closed

	closeOnce sync.Once
}

// RunnerInfo describes a process for the control API.
type RunnerInfo struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	StdoutLog string    `json:"stdout"`
	StderrLog string    `json:"stderr"`
}

// spawn starts args with its output redirected to log files in dir. On
// failure every file opened so far is closed.
func spawn(id string, args []string, dir string) (*ProcessInfo, error) {
	p := &ProcessInfo{
		ID:        id,
		StdoutLog: filepath.Join(dir, "runner-"+id+".out"),
		StderrLog: filepath.Join(dir, "runner-"+id+".err"),
		exited:    make(chan struct{}),
	}
	var err error
	if p.stdout, err = os.Create(p.StdoutLog); err != nil {
		return nil, errors.Wrap(err, "creating stdout log")
	}
	if p.stderr, err = os.Create(p.StderrLog); err != nil {
		p.closeLogs()
		return nil, errors.Wrap(err, "creating stderr log")
	}

	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.Stdout = p.stdout
	p.cmd.Stderr = p.stderr
	if err := p.cmd.Start(); err != nil {
		p.closeLogs()
		return nil, errors.Wrapf(err, "starting %s", args[0])
	}
	p.StartedAt = time.Now()

	go func() {
		p.exitErr = p.cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// Alive reports whether the process has not exited yet.
func (p *ProcessInfo) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitErr returns how the process ended, once it has.
func (p *ProcessInfo) ExitErr() error {
	if p.Alive() {
		return nil
	}
	return p.exitErr
}

// Info returns the API view of the process.
func (p *ProcessInfo) Info() RunnerInfo {
	pid := 0
	if p.cmd.Process != nil {
		pid = p.cmd.Process.Pid
	}
	return RunnerInfo{ID: p.ID, PID: pid, StartedAt: p.StartedAt, StdoutLog: p.StdoutLog, StderrLog: p.StderrLog}
}

// Stop kills the process, waits for it to exit and closes its log files.
func (p *ProcessInfo) Stop(timeout time.Duration) error {
	var result error
	if p.Alive() {
		if err := p.cmd.Process.Kill(); err != nil && p.Alive() {
			result = multierror.Append(result, errors.Wrapf(err, "killing runner %s", p.ID))
		}
		select {
		case <-p.exited:
		case <-time.After(timeout):
			result = multierror.Append(result, errors.Errorf("runner %s did not exit within %s", p.ID, timeout))
		}
	}
	if err := p.closeLogs(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func (p *ProcessInfo) closeLogs() error {
	var result error
	p.closeOnce.Do(func() {
		for _, f := range []*os.File{p.stdout, p.stderr} {
			if f == nil {
				continue
			}
			if err := f.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "closing %s", f.Name()))
			}
		}
	})
	return result
}
