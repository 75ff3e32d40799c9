package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
	"github.com/seantiz/porter/internal/store"
)

const (
	markerFile = ".last-sync"

	defaultPollInterval = 1 * time.Second
	defaultBudget       = 30 * time.Second
)

// syncExcludes are state files never worth mirroring: transient locks,
// rotating logs, and half-written temp files.
var syncExcludes = []string{"*.lock", "*.log", "*.tmp"}

// SyncOptions configures the backup sync job.
type SyncOptions struct {
	SandboxName string
	StateDir    string
	MountPath   string

	// PollInterval is the completion polling cadence. Budget is the
	// wall-clock limit for one run; on overrun the mirror process is
	// abandoned, not killed, so a slow large sync can still finish.
	PollInterval time.Duration
	Budget       time.Duration
}

// Syncer mirrors the gateway state directory onto the mounted remote volume.
type Syncer struct {
	sandboxes *sandbox.Registry
	mounter   *Mounter
	store     store.Store
	logger    *slog.Logger
	opts      SyncOptions
}

// NewSyncer creates a backup sync job runner.
func NewSyncer(reg *sandbox.Registry, mounter *Mounter, st store.Store, logger *slog.Logger, opts SyncOptions) *Syncer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Budget <= 0 {
		opts.Budget = defaultBudget
	}
	return &Syncer{
		sandboxes: reg,
		mounter:   mounter,
		store:     st,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes one backup sync. It never returns an error: the job is
// non-fatal by contract, so every failure resolves to a recorded outcome
// and the next scheduled run starts clean.
func (s *Syncer) Run(ctx context.Context) {
	started := time.Now().UTC()

	if missing := s.mounter.opts.Credentials.Missing(); len(missing) > 0 {
		s.record(ctx, model.OutcomeSkipped, "storage credentials not configured", started)
		return
	}

	if !s.mounter.EnsureMounted(ctx) {
		s.record(ctx, model.OutcomeFailed, "remote volume not mounted", started)
		return
	}

	sb := s.sandboxes.Get(s.opts.SandboxName)

	proc, err := sb.StartProcess(ctx, sandbox.ProcessSpec{Command: s.mirrorCommand()})
	if err != nil {
		s.record(ctx, model.OutcomeFailed, fmt.Sprintf("start mirror: %v", err), started)
		return
	}

	snap, overran := s.awaitMirror(ctx, proc)
	switch {
	case overran:
		s.logger.Warn("backup sync over budget, abandoning",
			"process_id", proc.ID(),
			"budget", s.opts.Budget,
		)
		s.record(ctx, model.OutcomeTimeout, fmt.Sprintf("abandoned after %s, mirror left running", s.opts.Budget), started)
	case snap.ExitCode != nil && *snap.ExitCode == 0:
		s.writeMarker(ctx, sb, started)
		s.record(ctx, model.OutcomeCompleted, "", started)
	default:
		detail := strings.TrimSpace(snap.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("mirror exited with status %s", snap.Status)
		}
		s.record(ctx, model.OutcomeFailed, detail, started)
	}
}

// mirrorCommand builds the one-way mirror invocation. Deletions propagate:
// the remote copy is a mirror of current state, not an archive.
func (s *Syncer) mirrorCommand() []string {
	cmd := []string{"rsync", "-a", "--delete"}
	for _, pattern := range syncExcludes {
		cmd = append(cmd, "--exclude="+pattern)
	}
	cmd = append(cmd, s.opts.StateDir+"/", s.opts.MountPath+"/state/")
	return cmd
}

// awaitMirror polls the mirror process until it is terminal or the budget
// elapses. overran is true when the budget ran out first.
func (s *Syncer) awaitMirror(ctx context.Context, proc sandbox.Process) (sandbox.Snapshot, bool) {
	deadline := time.Now().Add(s.opts.Budget)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		snap, err := proc.Poll(ctx)
		if err != nil {
			s.logger.Warn("poll mirror process", "process_id", proc.ID(), "error", err)
		} else if model.TerminalStatus(snap.Status) {
			return snap, false
		}

		if time.Now().After(deadline) {
			return sandbox.Snapshot{}, true
		}
		select {
		case <-ctx.Done():
			return sandbox.Snapshot{}, true
		case <-ticker.C:
		}
	}
}

// writeMarker records the completion time on the remote volume so an
// operator can see backup freshness from either side of the mount.
func (s *Syncer) writeMarker(ctx context.Context, sb sandbox.Sandbox, completed time.Time) {
	path := s.markerPath()
	stamp := completed.Format(time.RFC3339)
	res, err := sb.Exec(ctx, sandbox.ExecSpec{
		Command:  []string{"sh", "-c", fmt.Sprintf("printf '%s' > %s", stamp, path)},
		TimeoutS: 10,
	})
	if err != nil || res.ExitCode != 0 {
		s.logger.Warn("write sync marker", "path", path, "error", err)
	}
}

func (s *Syncer) markerPath() string {
	return s.opts.MountPath + "/" + markerFile
}

// record persists one sync run outcome. Persistence failures are logged and
// swallowed; history is advisory.
func (s *Syncer) record(ctx context.Context, outcome, detail string, started time.Time) {
	finished := time.Now().UTC()
	duration := int(finished.Sub(started).Milliseconds())

	syncRunsTotal.WithLabelValues(outcome).Inc()
	if outcome == model.OutcomeCompleted {
		syncDuration.Observe(finished.Sub(started).Seconds())
	}

	run := &model.SyncRun{
		ID:         model.NewID(),
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: &duration,
		StartedAt:  started,
		FinishedAt: &finished,
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.RecordSyncRun(recCtx, run); err != nil {
		s.logger.Error("record sync run", "outcome", outcome, "error", err)
	}

	if outcome == model.OutcomeCompleted {
		s.logger.Info("backup sync completed", "duration_ms", duration)
	} else {
		s.logger.Warn("backup sync did not complete", "outcome", outcome, "detail", detail)
	}
}

// Status describes the current storage posture.
type Status struct {
	CredentialsPresent bool       `json:"credentials_present"`
	MissingCredentials []string   `json:"missing_credentials,omitempty"`
	Mounted            bool       `json:"mounted"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
}

// Status reports credential presence, mount state, and the last recorded
// sync completion. It is read-only: no mount attempt is made.
func (s *Syncer) Status(ctx context.Context) Status {
	st := Status{MissingCredentials: s.mounter.opts.Credentials.Missing()}
	st.CredentialsPresent = len(st.MissingCredentials) == 0
	if !st.CredentialsPresent {
		return st
	}

	sb := s.sandboxes.Get(s.opts.SandboxName)

	mounted, err := s.mounter.isMounted(ctx, sb)
	if err != nil {
		s.logger.Warn("probe mount point", "error", err)
		return st
	}
	st.Mounted = mounted
	if !mounted {
		return st
	}

	res, err := sb.Exec(ctx, sandbox.ExecSpec{
		Command:  []string{"cat", s.markerPath()},
		TimeoutS: 10,
	})
	if err != nil || res.ExitCode != 0 {
		return st
	}
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(res.Stdout)); err == nil {
		st.LastSyncAt = &ts
	}
	return st
}
