package gateway

import (
	"fmt"
	"strings"
)

// Kind classifies a gateway startup failure.
type Kind string

// Startup failure kinds.
const (
	KindMissingCredential Kind = "missing_credential"
	KindSpawnFailed       Kind = "spawn_failed"
	KindTimeout           Kind = "timeout"
	KindResourceExhausted Kind = "resource_exhausted"
	KindUnknown           Kind = "unknown"
)

// hints maps each failure kind to a human-actionable remediation string.
var hints = map[Kind]string{
	KindMissingCredential: "set PORTER_API_KEY and retry",
	KindSpawnFailed:       "the gateway process exited before listening; check its stderr in the launch record",
	KindTimeout:           "the gateway did not become reachable in time; a cold container start can be slow, retry once",
	KindResourceExhausted: "the gateway ran out of memory; raise the sandbox memory limit or reduce gateway load",
	KindUnknown:           "inspect the gateway logs inside the sandbox",
}

// StartupError is the structured failure returned when the gateway could not
// be brought up. It carries a remediation hint per kind so callers see a
// diagnostic response instead of a generic transport failure.
type StartupError struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	Hint   string `json:"hint"`
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("gateway startup failed (%s): %s", e.Kind, e.Detail)
}

// newStartupError builds a StartupError with the canonical hint for kind.
func newStartupError(kind Kind, detail string) *StartupError {
	return &StartupError{Kind: kind, Detail: detail, Hint: hints[kind]}
}

// oomMarkers are stderr/stdout substrings that indicate the gateway died
// from memory pressure. The gateway has no structured error channel, so
// classification is a text heuristic; it is ordered after the pre-spawn
// credential check and before the generic fallback.
var oomMarkers = []string{
	"out of memory",
	"cannot allocate memory",
	"javascript heap out of memory",
	"oom-kill",
	"oomkilled",
}

// classifyExit maps a terminal-before-reachable process to a failure kind
// based on its captured output.
func classifyExit(stdout, stderr string) Kind {
	combined := strings.ToLower(stdout + "\n" + stderr)
	for _, marker := range oomMarkers {
		if strings.Contains(combined, marker) {
			return KindResourceExhausted
		}
	}
	return KindSpawnFailed
}
