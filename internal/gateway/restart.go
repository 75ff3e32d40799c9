package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
)

// RestartResult reports the outcome of an explicit restart. The new gateway
// is reported as "starting": the restart does not wait for readiness, the
// next EnsureReady does.
type RestartResult struct {
	PreviousProcessID string `json:"previous_process_id,omitempty"`
	ProcessID         string `json:"process_id"`
	Status            string `json:"status"`
}

// Restart kills the current gateway process, if any, waits a fixed grace
// period for termination, and spawns a fresh one without waiting for it to
// become reachable. Termination is best-effort: the restart proceeds whether
// or not the old process confirms death.
func (m *Manager) Restart(ctx context.Context) (*RestartResult, error) {
	sb := m.sandboxes.Get(m.opts.SandboxName)

	prev, err := findProcess(ctx, sb, m.launchCommand(), m.logger)
	if err != nil {
		return nil, fmt.Errorf("inspect sandbox: %w", err)
	}

	var prevID string
	if prev != nil {
		prevID = prev.ID()
		m.logger.Info("killing gateway for restart", "sandbox", sb.Name(), "process_id", prevID)
		if killErr := prev.Kill(ctx); killErr != nil {
			m.logger.Warn("kill gateway", "process_id", prevID, "error", killErr)
		}
		m.awaitTermination(ctx, prev)
	}

	proc, serr := m.start(ctx, sb, model.TriggerRestart, false)
	if serr != nil {
		return nil, serr
	}

	return &RestartResult{
		PreviousProcessID: prevID,
		ProcessID:         proc.ID(),
		Status:            model.OutcomeStarting,
	}, nil
}

// awaitTermination polls until proc is terminal or the grace period lapses.
func (m *Manager) awaitTermination(ctx context.Context, proc sandbox.Process) {
	deadline := time.Now().Add(m.opts.KillGrace)
	for time.Now().Before(deadline) {
		snap, err := proc.Poll(ctx)
		if err == nil && model.TerminalStatus(snap.Status) {
			return
		}
		select {
		case <-time.After(m.opts.PollInterval):
		case <-ctx.Done():
			return
		}
	}
	m.logger.Warn("gateway did not confirm termination within grace period",
		"process_id", proc.ID(), "grace", m.opts.KillGrace)
}
