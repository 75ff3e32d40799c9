package model

import "time"

// Process status constants, as reported by the sandbox control agent.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Launch trigger constants.
const (
	TriggerEnsure  = "ensure"
	TriggerRestart = "restart"
)

// Launch and sync run outcome constants.
const (
	OutcomeReady     = "ready"
	OutcomeReused    = "reused"
	OutcomeStarting  = "starting"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeTimeout   = "timeout"
)

// TerminalStatus reports whether a process status is terminal.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// LaunchRecord describes one gateway start attempt, whether it reused a
// running process or spawned a new one.
type LaunchRecord struct {
	ID          string     `json:"id"`
	SandboxName string     `json:"sandbox_name"`
	ProcessID   string     `json:"process_id,omitempty"`
	Trigger     string     `json:"trigger"`
	Outcome     string     `json:"outcome"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// SyncRun describes one backup sync job execution.
type SyncRun struct {
	ID         string     `json:"id"`
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
