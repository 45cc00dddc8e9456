package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client calls the control API of a remote agent.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the agent at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: strings.TrimRight(addr, "/"), http: &http.Client{Timeout: 30 * time.Second}}
}

// StartRunners asks the agent to start n runners.
func (c *Client) StartRunners(ctx context.Context, n int) ([]string, error) {
	var out struct {
		Started []string `json:"started"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/runners/start?count=%d", n), &out)
	return out.Started, err
}

// StopRunners asks the agent to stop n runners.
func (c *Client) StopRunners(ctx context.Context, n int) (int, error) {
	var out struct {
		Stopped int `json:"stopped"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/runners/stop?count=%d", n), &out)
	return out.Stopped, err
}

// Runners lists the agent's runners.
func (c *Client) Runners(ctx context.Context) ([]RunnerInfo, error) {
	var out []RunnerInfo
	err := c.do(ctx, http.MethodGet, "/runners", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "building agent request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling agent %s", c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return errors.Errorf("agent %s: %s: %s", c.base, resp.Status, failure.Error)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding agent response")
}
