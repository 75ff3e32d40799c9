// Package gateway keeps exactly one healthy gateway process alive inside
// the sandbox and classifies startup failures. Process state is pull-based:
// the sandbox exposes no exit events, so readiness and termination are
// established by bounded polling.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
	"github.com/seantiz/porter/internal/store"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultReadyTimeout = 45 * time.Second
	defaultKillGrace    = 5 * time.Second

	// attemptSlack pads the shared attempt's own deadline past the
	// readiness bound so the timeout error comes from the poll loop, not
	// from context expiry mid-poll.
	attemptSlack = 10 * time.Second

	probeTimeout = 2 * time.Second
)

// ProbeFunc reports whether the gateway is reachable on its fixed port.
// A nil return means reachable.
type ProbeFunc func(ctx context.Context) error

// HTTPProbe returns a ProbeFunc that considers the gateway reachable when
// an HTTP request to addr completes, regardless of status code.
func HTTPProbe(addr string) ProbeFunc {
	client := &http.Client{Timeout: probeTimeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/", nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe gateway: %w", err)
		}
		resp.Body.Close()
		return nil
	}
}

// Options configures the lifecycle manager.
type Options struct {
	SandboxName   string
	GatewayPort   int
	APIKey        string
	TelegramToken string
	DiscordToken  string

	// PollInterval and ReadyTimeout bound the readiness wait; KillGrace
	// bounds how long a restart waits for the old process to die.
	PollInterval time.Duration
	ReadyTimeout time.Duration
	KillGrace    time.Duration
}

// attempt is one in-flight start attempt shared by concurrent callers.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager guarantees a healthy gateway process per sandbox. All "start a
// new gateway" decisions go through the single-flight discipline here; no
// other component spawns the gateway.
type Manager struct {
	sandboxes *sandbox.Registry
	store     store.Store
	probe     ProbeFunc
	logger    *slog.Logger
	opts      Options

	mu       sync.Mutex
	inflight map[string]*attempt
}

// NewManager creates a lifecycle manager. Zero durations in opts fall back
// to the defaults.
func NewManager(reg *sandbox.Registry, st store.Store, probe ProbeFunc, logger *slog.Logger, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	return &Manager{
		sandboxes: reg,
		store:     st,
		probe:     probe,
		logger:    logger,
		opts:      opts,
		inflight:  make(map[string]*attempt),
	}
}

// launchCommand is the gateway's fixed launch signature. The finder matches
// on exactly this command line.
func (m *Manager) launchCommand() []string {
	return []string{"gateway", "serve", "--port", strconv.Itoa(m.opts.GatewayPort)}
}

// launchEnv builds the gateway process environment. Integration tokens are
// only passed when configured; their absence disables the integration.
func (m *Manager) launchEnv() map[string]string {
	env := map[string]string{
		"GATEWAY_API_KEY": m.opts.APIKey,
	}
	if m.opts.TelegramToken != "" {
		env["GATEWAY_TELEGRAM_TOKEN"] = m.opts.TelegramToken
	}
	if m.opts.DiscordToken != "" {
		env["GATEWAY_DISCORD_TOKEN"] = m.opts.DiscordToken
	}
	return env
}

// EnsureReady guarantees a reachable gateway, starting one if necessary.
// Concurrent callers while no gateway runs share a single start attempt:
// exactly one spawn occurs and every caller observes the same outcome. The
// attempt token is cleared on resolution so a later call can retry after a
// failure. Returns a *StartupError on failure.
func (m *Manager) EnsureReady(ctx context.Context) error {
	name := m.opts.SandboxName

	m.mu.Lock()
	if a, ok := m.inflight[name]; ok {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	m.inflight[name] = a
	m.mu.Unlock()

	// The attempt's outcome is shared by every waiter, so it runs under its
	// own deadline instead of the first caller's context.
	attemptCtx, cancel := context.WithTimeout(context.Background(), m.opts.ReadyTimeout+attemptSlack)
	a.err = m.ensure(attemptCtx)
	cancel()

	m.mu.Lock()
	delete(m.inflight, name)
	m.mu.Unlock()
	close(a.done)

	return a.err
}

// ensure performs one start attempt: reuse a running gateway if one exists,
// otherwise spawn and wait for readiness.
func (m *Manager) ensure(ctx context.Context) error {
	sb := m.sandboxes.Get(m.opts.SandboxName)

	proc, err := findProcess(ctx, sb, m.launchCommand(), m.logger)
	if err != nil {
		serr := newStartupError(KindUnknown, fmt.Sprintf("inspect sandbox: %v", err))
		m.record(sb.Name(), "", model.TriggerEnsure, model.OutcomeFailed, serr)
		return serr
	}
	if proc != nil {
		snap, pollErr := proc.Poll(ctx)
		if pollErr == nil && snap.Status == model.StatusRunning {
			m.logger.Debug("reusing running gateway", "sandbox", sb.Name(), "process_id", proc.ID())
			startsTotal.WithLabelValues(model.TriggerEnsure, model.OutcomeReused).Inc()
			return nil
		}
	}

	_, serr := m.start(ctx, sb, model.TriggerEnsure, true)
	if serr != nil {
		return serr
	}
	return nil
}

// start spawns a gateway process and, when waitReady is set, waits for it to
// become reachable. Every resolution is recorded as a launch record.
func (m *Manager) start(ctx context.Context, sb sandbox.Sandbox, trigger string, waitReady bool) (sandbox.Process, *StartupError) {
	if m.opts.APIKey == "" {
		serr := newStartupError(KindMissingCredential, "gateway API key is not configured")
		m.record(sb.Name(), "", trigger, model.OutcomeFailed, serr)
		return nil, serr
	}

	started := time.Now()
	proc, err := sb.StartProcess(ctx, sandbox.ProcessSpec{
		Command: m.launchCommand(),
		Env:     m.launchEnv(),
	})
	if err != nil {
		serr := newStartupError(KindSpawnFailed, fmt.Sprintf("spawn gateway: %v", err))
		m.record(sb.Name(), "", trigger, model.OutcomeFailed, serr)
		return nil, serr
	}
	m.logger.Info("gateway spawned", "sandbox", sb.Name(), "process_id", proc.ID(), "trigger", trigger)

	if !waitReady {
		m.record(sb.Name(), proc.ID(), trigger, model.OutcomeStarting, nil)
		return proc, nil
	}

	if serr := m.awaitReady(ctx, proc); serr != nil {
		m.record(sb.Name(), proc.ID(), trigger, model.OutcomeFailed, serr)
		return nil, serr
	}

	startupDuration.Observe(time.Since(started).Seconds())
	m.record(sb.Name(), proc.ID(), trigger, model.OutcomeReady, nil)
	m.logger.Info("gateway ready", "sandbox", sb.Name(), "process_id", proc.ID(),
		"elapsed_ms", time.Since(started).Milliseconds())
	return proc, nil
}

// awaitReady polls process status and probes the gateway port until the
// gateway is reachable, the process dies first, or the bound is exceeded.
func (m *Manager) awaitReady(ctx context.Context, proc sandbox.Process) *StartupError {
	deadline := time.Now().Add(m.opts.ReadyTimeout)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		snap, err := proc.Poll(ctx)
		if err != nil {
			// A flaky poll is not terminal; the deadline bounds retries.
			m.logger.Warn("poll gateway process", "process_id", proc.ID(), "error", err)
		} else if model.TerminalStatus(snap.Status) {
			kind := classifyExit(snap.Stdout, snap.Stderr)
			detail := fmt.Sprintf("gateway exited with status %q before becoming reachable", snap.Status)
			if snap.ExitCode != nil {
				detail = fmt.Sprintf("%s (exit code %d)", detail, *snap.ExitCode)
			}
			return newStartupError(kind, detail)
		} else if snap.Status == model.StatusRunning {
			if perr := m.probe(ctx); perr == nil {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return newStartupError(KindTimeout,
				fmt.Sprintf("gateway not reachable after %s", m.opts.ReadyTimeout))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return newStartupError(KindTimeout,
				fmt.Sprintf("readiness wait canceled: %v", ctx.Err()))
		}
	}
}

// record persists a resolved launch attempt and counts it. Persistence
// failures are logged, never propagated: history is diagnostics, not the
// request path.
func (m *Manager) record(sandboxName, processID, trigger, outcome string, serr *StartupError) {
	now := time.Now().UTC()
	rec := &model.LaunchRecord{
		ID:          model.NewID(),
		SandboxName: sandboxName,
		ProcessID:   processID,
		Trigger:     trigger,
		Outcome:     outcome,
		CreatedAt:   now,
		ResolvedAt:  &now,
	}
	if serr != nil {
		rec.ErrorKind = string(serr.Kind)
		rec.ErrorDetail = serr.Detail
	}

	startsTotal.WithLabelValues(trigger, outcome).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.RecordLaunch(ctx, rec); err != nil {
		m.logger.Error("record launch", "error", err)
	}
}

// Status describes the current gateway process, if any.
type Status struct {
	SandboxName   string     `json:"sandbox_name"`
	Running       bool       `json:"running"`
	ProcessID     string     `json:"process_id,omitempty"`
	ProcessStatus string     `json:"process_status,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

// Status reports the gateway process state without starting anything.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	sb := m.sandboxes.Get(m.opts.SandboxName)
	status := &Status{SandboxName: sb.Name()}

	proc, err := findProcess(ctx, sb, m.launchCommand(), m.logger)
	if err != nil {
		return nil, fmt.Errorf("inspect sandbox: %w", err)
	}
	if proc == nil {
		return status, nil
	}

	status.ProcessID = proc.ID()
	startedAt := proc.StartedAt()
	status.StartedAt = &startedAt

	snap, err := proc.Poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll gateway: %w", err)
	}
	status.ProcessStatus = snap.Status
	status.Running = snap.Status == model.StatusRunning
	return status, nil
}
