// Package sandbox provides handles to an isolated container and the
// processes running inside it. The container is owned by the host platform
// and may be asleep; handles are cheap and lazily materialized, and nothing
// here ever tears a container down.
package sandbox

import (
	"context"
	"time"
)

// ProcessSpec describes a process to start inside the sandbox.
type ProcessSpec struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// Snapshot is a point-in-time view of a sandboxed process. Status is one of
// the model.Status* constants; ExitCode is nil until the process is terminal.
type Snapshot struct {
	ID        string    `json:"id"`
	Command   []string  `json:"command"`
	Status    string    `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Stdout    string    `json:"stdout,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Process is a handle to one process inside the sandbox. Status is pull-based:
// the sandbox offers no completion events, so callers poll.
type Process interface {
	ID() string
	Command() []string
	StartedAt() time.Time

	// Poll fetches the current status, exit code, and buffered output.
	Poll(ctx context.Context) (Snapshot, error)

	// Kill requests termination. Confirmation is not guaranteed; callers
	// that need certainty poll afterwards.
	Kill(ctx context.Context) error
}

// ExecSpec describes a bounded synchronous command run inside the sandbox.
type ExecSpec struct {
	Command  []string          `json:"command"`
	Env      map[string]string `json:"env,omitempty"`
	TimeoutS int               `json:"timeout_s,omitempty"`
}

// ExecResult holds the outcome of a synchronous command.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Sandbox is a handle to one container.
type Sandbox interface {
	// Name returns the logical name keying this sandbox.
	Name() string

	// StartProcess spawns a long-running process and returns immediately
	// with a handle; the process may still be pending.
	StartProcess(ctx context.Context, spec ProcessSpec) (Process, error)

	// ListProcesses returns handles to all processes the sandbox currently
	// knows about, including terminal ones.
	ListProcesses(ctx context.Context) ([]Process, error)

	// Exec runs a short command to completion and returns its output.
	Exec(ctx context.Context, spec ExecSpec) (ExecResult, error)
}
