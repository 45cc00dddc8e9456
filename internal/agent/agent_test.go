package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle/coherence-sub061/internal/cache"
)

// The runner command prints its arguments then sleeps; appended arguments
// land in $1...
const sleeper = `sh -c 'echo "args: $*"; exec sleep 30' runner`

func newAgent(t *testing.T, command string, svc cache.Service) *Agent {
	t.Helper()
	a, err := New(Options{
		Name:         "agent-1",
		Address:      "localhost:7575",
		Command:      command,
		ConsoleAddr:  "ws://console:7574/channel",
		LogDir:       t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	}, svc, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RejectsBadCommands(t *testing.T) {
	_, err := New(Options{Command: "  "}, nil, nil)
	assert.Error(t, err)

	_, err = New(Options{Command: `runner "unterminated`}, nil, nil)
	assert.Error(t, err)

	a, err := New(Options{Command: "runner"}, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Name())
	assert.Equal(t, DefaultPollInterval, a.opts.PollInterval)
}

func TestAgent_StartAndStopRunners(t *testing.T) {
	a := newAgent(t, sleeper, nil)
	ctx := context.Background()

	ids, err := a.StartRunners(ctx, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	runners := a.Runners()
	require.Len(t, runners, 3)
	for i, r := range runners {
		assert.Equal(t, ids[i], r.ID)
		assert.Greater(t, r.PID, 0)
	}

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(runners[0].StdoutLog)
		return err == nil && strings.Contains(string(data), "args: --name "+ids[0]+" ws://console:7574/channel")
	}, 2*time.Second, 10*time.Millisecond)

	stopped, err := a.StopRunners(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stopped)
	remaining := a.Runners()
	require.Len(t, remaining, 1)
	assert.Equal(t, ids[2], remaining[0].ID, "oldest runners stop first")

	stopped, err = a.StopRunners(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, stopped)
	assert.Empty(t, a.Runners())
}

func TestAgent_PrunesExitedRunners(t *testing.T) {
	a := newAgent(t, `sh -c 'exit 3' runner`, nil)

	_, err := a.StartRunners(context.Background(), 2)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(a.Runners()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAgent_SpawnFailure(t *testing.T) {
	a := newAgent(t, filepath.Join(t.TempDir(), "no-such-runner"), nil)

	ids, err := a.StartRunners(context.Background(), 2)
	assert.Error(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, a.Runners())

	_, err = a.StartRunners(context.Background(), 0)
	assert.Error(t, err)
}

func TestAgent_RegistersInCache(t *testing.T) {
	svc := cache.NewMemory()
	ctx := context.Background()
	a := newAgent(t, sleeper, svc)

	_, err := a.StartRunners(ctx, 2)
	require.NoError(t, err)

	registered, err := Registered(ctx, svc)
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Equal(t, "agent-1", registered[0].Name)
	assert.Equal(t, "localhost:7575", registered[0].Address)
	assert.Equal(t, 2, registered[0].Runners)

	require.NoError(t, a.Shutdown(ctx))
	assert.Empty(t, a.Runners())
	registered, err = Registered(ctx, svc)
	require.NoError(t, err)
	assert.Empty(t, registered)

	assert.NoError(t, a.Shutdown(ctx), "shutdown is idempotent")
}

func TestAgent_ControlAPI(t *testing.T) {
	a := newAgent(t, sleeper, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	ids, err := client.StartRunners(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	runners, err := client.Runners(ctx)
	require.NoError(t, err)
	assert.Len(t, runners, 2)

	stopped, err := client.StopRunners(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stopped)

	resp, err := http.Post(srv.URL+"/runners/start?count=zero", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAgent_ControlAPISpawnError(t *testing.T) {
	a := newAgent(t, filepath.Join(t.TempDir(), "missing"), nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	_, err := NewClient(strings.TrimPrefix(srv.URL, "http://")).StartRunners(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
