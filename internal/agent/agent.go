// Package agent implements the in-container control agent. It holds a table
// of processes started on behalf of the supervisor, captures their output,
// and answers status polls. The sandbox offers no native exit notification,
// so the supervisor pulls state from here.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
)

const defaultExecTimeout = 30 * time.Second

// Agent manages sandboxed processes over os/exec.
type Agent struct {
	mu     sync.Mutex
	procs  map[string]*managedProcess
	logger *slog.Logger
}

// New creates an agent with an empty process table.
func New(logger *slog.Logger) *Agent {
	return &Agent{
		procs:  make(map[string]*managedProcess),
		logger: logger,
	}
}

// managedProcess tracks one spawned command and its buffered output.
type managedProcess struct {
	id        string
	command   []string
	startedAt time.Time

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   string
	exitCode *int
	stdout   bytes.Buffer
	stderr   bytes.Buffer
}

// snapshot returns a copy of the current process state.
func (p *managedProcess) snapshot() sandbox.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exitCode *int
	if p.exitCode != nil {
		v := *p.exitCode
		exitCode = &v
	}
	return sandbox.Snapshot{
		ID:        p.id,
		Command:   append([]string(nil), p.command...),
		Status:    p.status,
		ExitCode:  exitCode,
		Stdout:    p.stdout.String(),
		Stderr:    p.stderr.String(),
		StartedAt: p.startedAt,
	}
}

// Start spawns a long-running process and registers it in the table.
func (a *Agent) Start(spec sandbox.ProcessSpec) (sandbox.Snapshot, error) {
	if len(spec.Command) == 0 {
		return sandbox.Snapshot{}, fmt.Errorf("empty command")
	}

	p := &managedProcess{
		id:        model.NewID(),
		command:   append([]string(nil), spec.Command...),
		startedAt: time.Now().UTC(),
		status:    model.StatusPending,
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = mergeEnv(spec.Env)
	cmd.Stdout = syncWriter{p: p, stderr: false}
	cmd.Stderr = syncWriter{p: p, stderr: true}
	p.cmd = cmd

	a.mu.Lock()
	a.procs[p.id] = p
	a.mu.Unlock()

	if err := cmd.Start(); err != nil {
		p.mu.Lock()
		p.status = model.StatusFailed
		code := -1
		p.exitCode = &code
		fmt.Fprintf(&p.stderr, "start: %v\n", err)
		p.mu.Unlock()
		return p.snapshot(), nil
	}

	p.mu.Lock()
	p.status = model.StatusRunning
	p.mu.Unlock()

	go a.reap(p)

	a.logger.Info("process started", "process_id", p.id, "command", spec.Command[0])
	return p.snapshot(), nil
}

// reap waits for the process to exit and records its terminal state.
func (a *Agent) reap(p *managedProcess) {
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	code := 0
	if err != nil {
		code = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}
	p.exitCode = &code
	if code == 0 {
		p.status = model.StatusCompleted
	} else {
		p.status = model.StatusFailed
	}

	a.logger.Info("process exited", "process_id", p.id, "exit_code", code)
}

// Get returns the snapshot for a process, or false if unknown.
func (a *Agent) Get(id string) (sandbox.Snapshot, bool) {
	a.mu.Lock()
	p, ok := a.procs[id]
	a.mu.Unlock()
	if !ok {
		return sandbox.Snapshot{}, false
	}
	return p.snapshot(), true
}

// List returns snapshots of all known processes, oldest first.
func (a *Agent) List() []sandbox.Snapshot {
	a.mu.Lock()
	procs := make([]*managedProcess, 0, len(a.procs))
	for _, p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].startedAt.Before(procs[j].startedAt)
	})

	snaps := make([]sandbox.Snapshot, 0, len(procs))
	for _, p := range procs {
		snaps = append(snaps, p.snapshot())
	}
	return snaps
}

// Kill requests termination of a process. The terminal status is recorded
// by the reaper, not here.
func (a *Agent) Kill(id string) error {
	a.mu.Lock()
	p, ok := a.procs[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("process %s not found", id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if model.TerminalStatus(p.status) || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process %s: %w", id, err)
	}
	return nil
}

// Exec runs a command to completion with a wall-clock bound and returns its
// captured output. The command's exit code is reported, not turned into an
// error, so callers can distinguish "ran and failed" from "could not run".
func (a *Agent) Exec(ctx context.Context, spec sandbox.ExecSpec) (sandbox.ExecResult, error) {
	if len(spec.Command) == 0 {
		return sandbox.ExecResult{}, fmt.Errorf("empty command")
	}

	timeout := defaultExecTimeout
	if spec.TimeoutS > 0 {
		timeout = time.Duration(spec.TimeoutS) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Env = mergeEnv(spec.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := sandbox.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			result.Stderr += fmt.Sprintf("timeout after %s\n", timeout)
			return result, nil
		}
		return sandbox.ExecResult{}, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// syncWriter appends command output to the process buffers under its lock.
type syncWriter struct {
	p      *managedProcess
	stderr bool
}

func (w syncWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.stderr {
		return w.p.stderr.Write(b)
	}
	return w.p.stdout.Write(b)
}

// mergeEnv layers spec env on top of the agent's own environment.
func mergeEnv(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	return merged
}
