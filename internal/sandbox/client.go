package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const clientTimeout = 30 * time.Second

// Client is a Sandbox backed by the control agent's HTTP API inside the
// container. A sleeping container wakes when the platform sees traffic on
// its address, so the first request after idle may be slow; callers bound
// waits with their context.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
}

var _ Sandbox = (*Client)(nil)

// NewClient creates a sandbox handle talking to the control agent at addr
// (host:port, no scheme).
func NewClient(name, addr string) *Client {
	return &Client{
		name:    name,
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// Name returns the logical sandbox name.
func (c *Client) Name() string {
	return c.name
}

// StartProcess spawns a process via the control agent.
func (c *Client) StartProcess(ctx context.Context, spec ProcessSpec) (Process, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodPost, "/v1/processes", spec, &snap); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return &remoteProcess{client: c, snap: snap}, nil
}

// ListProcesses returns handles to all processes known to the control agent.
func (c *Client) ListProcesses(ctx context.Context) ([]Process, error) {
	var resp struct {
		Processes []Snapshot `json:"processes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/processes", nil, &resp); err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	procs := make([]Process, 0, len(resp.Processes))
	for _, snap := range resp.Processes {
		procs = append(procs, &remoteProcess{client: c, snap: snap})
	}
	return procs, nil
}

// Exec runs a bounded synchronous command via the control agent.
func (c *Client) Exec(ctx context.Context, spec ExecSpec) (ExecResult, error) {
	var result ExecResult
	if err := c.do(ctx, http.MethodPost, "/v1/exec", spec, &result); err != nil {
		return ExecResult{}, fmt.Errorf("exec: %w", err)
	}
	return result, nil
}

// do issues one JSON request against the control agent and decodes the
// response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remoteProcess is a Process backed by the control agent. Identity fields
// come from the snapshot taken when the handle was created; Poll refreshes
// the live state.
type remoteProcess struct {
	client *Client
	snap   Snapshot
}

func (p *remoteProcess) ID() string           { return p.snap.ID }
func (p *remoteProcess) Command() []string    { return p.snap.Command }
func (p *remoteProcess) StartedAt() time.Time { return p.snap.StartedAt }

func (p *remoteProcess) Poll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := p.client.do(ctx, http.MethodGet, "/v1/processes/"+p.snap.ID, nil, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("poll process %s: %w", p.snap.ID, err)
	}
	return snap, nil
}

func (p *remoteProcess) Kill(ctx context.Context) error {
	if err := p.client.do(ctx, http.MethodPost, "/v1/processes/"+p.snap.ID+"/kill", nil, nil); err != nil {
		return fmt.Errorf("kill process %s: %w", p.snap.ID, err)
	}
	return nil
}
