package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
)

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		want   Kind
	}{
		{"plain failure", "", "Error: cannot find module 'express'", KindSpawnFailed},
		{"oom stderr", "", "FATAL ERROR: JavaScript heap out of memory", KindResourceExhausted},
		{"oom stdout", "worker oom-killed", "", KindResourceExhausted},
		{"oom mixed case", "", "Cannot Allocate Memory", KindResourceExhausted},
		{"empty output", "", "", KindSpawnFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyExit(tt.stdout, tt.stderr); got != tt.want {
				t.Errorf("classifyExit() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartupErrorCarriesHint(t *testing.T) {
	for _, kind := range []Kind{KindMissingCredential, KindSpawnFailed, KindTimeout, KindResourceExhausted, KindUnknown} {
		serr := newStartupError(kind, "detail")
		if serr.Hint == "" {
			t.Errorf("kind %q has no hint", kind)
		}
		if serr.Error() == "" {
			t.Errorf("kind %q has empty Error()", kind)
		}
	}
}

// staticProcess is a minimal Process for finder tests.
type staticProcess struct {
	id        string
	command   []string
	startedAt time.Time
}

func (p *staticProcess) ID() string           { return p.id }
func (p *staticProcess) Command() []string    { return p.command }
func (p *staticProcess) StartedAt() time.Time { return p.startedAt }
func (p *staticProcess) Poll(context.Context) (sandbox.Snapshot, error) {
	return sandbox.Snapshot{ID: p.id, Command: p.command, Status: model.StatusRunning}, nil
}
func (p *staticProcess) Kill(context.Context) error { return nil }

// staticSandbox serves a fixed process list.
type staticSandbox struct {
	procs []sandbox.Process
}

func (s *staticSandbox) Name() string { return "primary" }
func (s *staticSandbox) StartProcess(context.Context, sandbox.ProcessSpec) (sandbox.Process, error) {
	return nil, nil
}
func (s *staticSandbox) ListProcesses(context.Context) ([]sandbox.Process, error) {
	return s.procs, nil
}
func (s *staticSandbox) Exec(context.Context, sandbox.ExecSpec) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{}, nil
}

func TestFindProcessPicksNewestMatch(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	command := []string{"gateway", "serve", "--port", "18789"}
	base := time.Now().UTC()

	sb := &staticSandbox{procs: []sandbox.Process{
		&staticProcess{id: "old", command: command, startedAt: base.Add(-time.Hour)},
		&staticProcess{id: "other", command: []string{"sh", "-c", "true"}, startedAt: base},
		&staticProcess{id: "new", command: command, startedAt: base.Add(-time.Minute)},
	}}

	proc, err := findProcess(context.Background(), sb, command, logger)
	if err != nil {
		t.Fatalf("findProcess: %v", err)
	}
	if proc == nil {
		t.Fatal("expected a match")
	}
	if proc.ID() != "new" {
		t.Errorf("found %q, want newest match %q", proc.ID(), "new")
	}
}

func TestFindProcessNoMatch(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	sb := &staticSandbox{procs: []sandbox.Process{
		&staticProcess{id: "other", command: []string{"sleep", "30"}, startedAt: time.Now()},
	}}

	proc, err := findProcess(context.Background(), sb, []string{"gateway", "serve"}, logger)
	if err != nil {
		t.Fatalf("findProcess: %v", err)
	}
	if proc != nil {
		t.Errorf("found %q, want none", proc.ID())
	}
}
