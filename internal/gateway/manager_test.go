package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/porter/internal/gateway"
	"github.com/seantiz/porter/internal/model"
	"github.com/seantiz/porter/internal/sandbox"
)

// fakeProcess is a controllable in-memory Process.
type fakeProcess struct {
	mu        sync.Mutex
	id        string
	command   []string
	startedAt time.Time
	status    string
	exitCode  *int
	stdout    string
	stderr    string
	killed    bool
}

func (p *fakeProcess) ID() string           { return p.id }
func (p *fakeProcess) Command() []string    { return p.command }
func (p *fakeProcess) StartedAt() time.Time { return p.startedAt }

func (p *fakeProcess) Poll(context.Context) (sandbox.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sandbox.Snapshot{
		ID:        p.id,
		Command:   p.command,
		Status:    p.status,
		ExitCode:  p.exitCode,
		Stdout:    p.stdout,
		Stderr:    p.stderr,
		StartedAt: p.startedAt,
	}, nil
}

func (p *fakeProcess) Kill(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.status = model.StatusFailed
	code := -1
	p.exitCode = &code
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeSandbox is a controllable in-memory Sandbox. Spawned processes take
// the configured spawn state; startDelay holds StartProcess open so
// concurrent callers pile up on one attempt deterministically.
type fakeSandbox struct {
	mu          sync.Mutex
	procs       []*fakeProcess
	startCalls  int
	startDelay  time.Duration
	startErr    error
	spawnStatus string
	spawnStdout string
	spawnStderr string
	spawnExit   *int
	nextID      int
}

func (s *fakeSandbox) Name() string { return "primary" }

func (s *fakeSandbox) StartProcess(_ context.Context, spec sandbox.ProcessSpec) (sandbox.Process, error) {
	if s.startDelay > 0 {
		time.Sleep(s.startDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.startErr != nil {
		return nil, s.startErr
	}

	status := s.spawnStatus
	if status == "" {
		status = model.StatusRunning
	}
	s.nextID++
	p := &fakeProcess{
		id:        fmt.Sprintf("proc-%d", s.nextID),
		command:   append([]string(nil), spec.Command...),
		startedAt: time.Now().UTC(),
		status:    status,
		stdout:    s.spawnStdout,
		stderr:    s.spawnStderr,
		exitCode:  s.spawnExit,
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSandbox) ListProcesses(context.Context) ([]sandbox.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	procs := make([]sandbox.Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	return procs, nil
}

func (s *fakeSandbox) Exec(context.Context, sandbox.ExecSpec) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{}, nil
}

func (s *fakeSandbox) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

func (s *fakeSandbox) addRunning(id string, command []string) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakeProcess{
		id:        id,
		command:   command,
		startedAt: time.Now().UTC(),
		status:    model.StatusRunning,
	}
	s.procs = append(s.procs, p)
	return p
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	launches []*model.LaunchRecord
	syncRuns []*model.SyncRun
}

func (s *memStore) RecordLaunch(_ context.Context, rec *model.LaunchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launches = append(s.launches, rec)
	return nil
}

func (s *memStore) ListLaunches(context.Context, int) ([]*model.LaunchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.LaunchRecord(nil), s.launches...), nil
}

func (s *memStore) RecordSyncRun(_ context.Context, run *model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncRuns = append(s.syncRuns, run)
	return nil
}

func (s *memStore) ListSyncRuns(context.Context, int) ([]*model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.SyncRun(nil), s.syncRuns...), nil
}

func (s *memStore) Close() error { return nil }

func probeAlways(context.Context) error { return nil }
func probeNever(context.Context) error  { return errors.New("connection refused") }

// launchCommand mirrors the manager's fixed launch signature for the test port.
func launchCommand(port int) []string {
	return []string{"gateway", "serve", "--port", strconv.Itoa(port)}
}

func newTestManager(t *testing.T, sb *fakeSandbox, probe gateway.ProbeFunc, opts gateway.Options) (*gateway.Manager, *memStore) {
	t.Helper()
	if opts.SandboxName == "" {
		opts.SandboxName = "primary"
	}
	if opts.GatewayPort == 0 {
		opts.GatewayPort = 18789
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	if opts.KillGrace == 0 {
		opts.KillGrace = 100 * time.Millisecond
	}

	reg := sandbox.NewRegistry(func(string) sandbox.Sandbox { return sb })
	st := &memStore{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return gateway.NewManager(reg, st, probe, logger, opts), st
}

func TestEnsureReadySingleFlight(t *testing.T) {
	sb := &fakeSandbox{startDelay: 150 * time.Millisecond}
	m, _ := newTestManager(t, sb, probeAlways, gateway.Options{APIKey: "sk-test"})

	const callers = 10
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.EnsureReady(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: EnsureReady returned %v, want nil", i, err)
		}
	}
	if got := sb.calls(); got != 1 {
		t.Errorf("StartProcess called %d times, want exactly 1", got)
	}
}

func TestEnsureReadySharedFailureOutcome(t *testing.T) {
	sb := &fakeSandbox{
		startDelay:  100 * time.Millisecond,
		spawnStatus: model.StatusFailed,
		spawnStderr: "Error: cannot find module",
	}
	m, _ := newTestManager(t, sb, probeNever, gateway.Options{APIKey: "sk-test"})

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.EnsureReady(context.Background())
		}()
	}
	wg.Wait()

	for i, err := range errs {
		var serr *gateway.StartupError
		if !errors.As(err, &serr) {
			t.Fatalf("caller %d: error %v is not a StartupError", i, err)
		}
		if serr.Kind != gateway.KindSpawnFailed {
			t.Errorf("caller %d: kind = %q, want %q", i, serr.Kind, gateway.KindSpawnFailed)
		}
	}
	if got := sb.calls(); got != 1 {
		t.Errorf("StartProcess called %d times, want exactly 1", got)
	}
}

func TestEnsureReadyReusesRunningGateway(t *testing.T) {
	sb := &fakeSandbox{}
	sb.addRunning("existing", launchCommand(18789))
	m, _ := newTestManager(t, sb, probeNever, gateway.Options{APIKey: "sk-test"})

	if err := m.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if got := sb.calls(); got != 0 {
		t.Errorf("StartProcess called %d times, want 0 (reuse path)", got)
	}
}

func TestEnsureReadyMissingCredential(t *testing.T) {
	sb := &fakeSandbox{}
	m, st := newTestManager(t, sb, probeAlways, gateway.Options{APIKey: ""})

	err := m.EnsureReady(context.Background())
	var serr *gateway.StartupError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a StartupError", err)
	}
	if serr.Kind != gateway.KindMissingCredential {
		t.Errorf("kind = %q, want %q", serr.Kind, gateway.KindMissingCredential)
	}
	if got := sb.calls(); got != 0 {
		t.Errorf("StartProcess called %d times, want 0 (pre-spawn check)", got)
	}

	launches, _ := st.ListLaunches(context.Background(), 10)
	if len(launches) != 1 || launches[0].Outcome != model.OutcomeFailed {
		t.Errorf("launches = %+v, want one failed record", launches)
	}
}

func TestEnsureReadyClassifiesOOM(t *testing.T) {
	code := 137
	sb := &fakeSandbox{
		spawnStatus: model.StatusFailed,
		spawnStderr: "FATAL ERROR: JavaScript heap out of memory",
		spawnExit:   &code,
	}
	m, _ := newTestManager(t, sb, probeNever, gateway.Options{APIKey: "sk-test"})

	start := time.Now()
	err := m.EnsureReady(context.Background())
	elapsed := time.Since(start)

	var serr *gateway.StartupError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a StartupError", err)
	}
	if serr.Kind != gateway.KindResourceExhausted {
		t.Errorf("kind = %q, want %q", serr.Kind, gateway.KindResourceExhausted)
	}
	// The process was terminal on the first poll; classification must not
	// wait out the full readiness bound.
	if elapsed > time.Second {
		t.Errorf("classification took %v, want well under the readiness bound", elapsed)
	}
}

func TestEnsureReadyTimeout(t *testing.T) {
	// Process stays running but never becomes reachable.
	sb := &fakeSandbox{spawnStatus: model.StatusRunning}
	m, _ := newTestManager(t, sb, probeNever, gateway.Options{
		APIKey:       "sk-test",
		PollInterval: 20 * time.Millisecond,
		ReadyTimeout: 200 * time.Millisecond,
	})

	err := m.EnsureReady(context.Background())
	var serr *gateway.StartupError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a StartupError", err)
	}
	if serr.Kind != gateway.KindTimeout {
		t.Errorf("kind = %q, want %q", serr.Kind, gateway.KindTimeout)
	}
}

func TestEnsureReadyRetriesAfterFailure(t *testing.T) {
	sb := &fakeSandbox{
		spawnStatus: model.StatusFailed,
		spawnStderr: "boom",
	}
	m, _ := newTestManager(t, sb, probeAlways, gateway.Options{APIKey: "sk-test"})

	if err := m.EnsureReady(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	// The attempt token must be cleared: a later call starts fresh.
	sb.mu.Lock()
	sb.spawnStatus = model.StatusRunning
	sb.procs = nil
	sb.mu.Unlock()

	if err := m.EnsureReady(context.Background()); err != nil {
		t.Fatalf("second EnsureReady: %v", err)
	}
	if got := sb.calls(); got != 2 {
		t.Errorf("StartProcess called %d times, want 2", got)
	}
}

func TestRestartKillsAndStartsNew(t *testing.T) {
	sb := &fakeSandbox{}
	prev := sb.addRunning("proc-old", launchCommand(18789))
	m, st := newTestManager(t, sb, probeNever, gateway.Options{APIKey: "sk-test"})

	result, err := m.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}

	if !prev.wasKilled() {
		t.Error("previous process was not killed")
	}
	if result.PreviousProcessID != "proc-old" {
		t.Errorf("PreviousProcessID = %q, want %q", result.PreviousProcessID, "proc-old")
	}
	if result.Status != model.OutcomeStarting {
		t.Errorf("Status = %q, want %q", result.Status, model.OutcomeStarting)
	}
	if result.ProcessID == "" || result.ProcessID == "proc-old" {
		t.Errorf("ProcessID = %q, want a fresh process id", result.ProcessID)
	}
	if got := sb.calls(); got != 1 {
		t.Errorf("StartProcess called %d times, want 1", got)
	}

	launches, _ := st.ListLaunches(context.Background(), 10)
	if len(launches) != 1 || launches[0].Trigger != model.TriggerRestart || launches[0].Outcome != model.OutcomeStarting {
		t.Errorf("launches = %+v, want one restart/starting record", launches)
	}
}

func TestRestartWithoutExistingGateway(t *testing.T) {
	sb := &fakeSandbox{}
	m, _ := newTestManager(t, sb, probeNever, gateway.Options{APIKey: "sk-test"})

	result, err := m.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if result.PreviousProcessID != "" {
		t.Errorf("PreviousProcessID = %q, want empty", result.PreviousProcessID)
	}
	if got := sb.calls(); got != 1 {
		t.Errorf("StartProcess called %d times, want 1", got)
	}
}

func TestStatusReportsRunningGateway(t *testing.T) {
	sb := &fakeSandbox{}
	sb.addRunning("proc-1", launchCommand(18789))
	m, _ := newTestManager(t, sb, probeAlways, gateway.Options{APIKey: "sk-test"})

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Error("Running = false, want true")
	}
	if status.ProcessID != "proc-1" {
		t.Errorf("ProcessID = %q, want %q", status.ProcessID, "proc-1")
	}
}

func TestStatusNoGateway(t *testing.T) {
	sb := &fakeSandbox{}
	m, _ := newTestManager(t, sb, probeAlways, gateway.Options{APIKey: "sk-test"})

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Error("Running = true, want false")
	}
	if status.ProcessID != "" {
		t.Errorf("ProcessID = %q, want empty", status.ProcessID)
	}
}
