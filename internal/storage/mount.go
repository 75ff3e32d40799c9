package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seantiz/porter/internal/sandbox"
)

const mountExecTimeoutS = 30

// MountOptions configures the mount manager.
type MountOptions struct {
	SandboxName string
	Credentials Credentials
	Bucket      string
	MountPath   string
}

// Mounter idempotently attaches the remote volume at the fixed mount path.
type Mounter struct {
	sandboxes *sandbox.Registry
	opts      MountOptions
	logger    *slog.Logger
}

// NewMounter creates a mount manager.
func NewMounter(reg *sandbox.Registry, logger *slog.Logger, opts MountOptions) *Mounter {
	return &Mounter{sandboxes: reg, opts: opts, logger: logger}
}

// EnsureMounted attaches the remote volume, returning whether it is mounted.
// It never returns an error: missing credentials, probe failures, and mount
// command failures all degrade to false with a logged detail.
func (m *Mounter) EnsureMounted(ctx context.Context) bool {
	if missing := m.opts.Credentials.Missing(); len(missing) > 0 {
		m.logger.Debug("storage disabled", "missing_credentials", missing)
		return false
	}

	sb := m.sandboxes.Get(m.opts.SandboxName)

	mounted, err := m.isMounted(ctx, sb)
	if err != nil {
		m.logger.Warn("probe mount point", "path", m.opts.MountPath, "error", err)
		return false
	}
	if mounted {
		return true
	}

	if res, err := sb.Exec(ctx, sandbox.ExecSpec{
		Command:  []string{"mkdir", "-p", m.opts.MountPath},
		TimeoutS: mountExecTimeoutS,
	}); err != nil || res.ExitCode != 0 {
		m.logger.Warn("create mount path", "path", m.opts.MountPath, "error", err)
		return false
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", m.opts.Credentials.AccountID)
	res, err := sb.Exec(ctx, sandbox.ExecSpec{
		Command: []string{
			"s3fs", m.opts.Bucket, m.opts.MountPath,
			"-o", "url=" + endpoint,
			"-o", "nonempty",
		},
		Env: map[string]string{
			"AWSACCESSKEYID":     m.opts.Credentials.AccessKeyID,
			"AWSSECRETACCESSKEY": m.opts.Credentials.SecretAccessKey,
		},
		TimeoutS: mountExecTimeoutS,
	})
	if err != nil {
		m.logger.Warn("mount remote volume", "bucket", m.opts.Bucket, "error", err)
		return false
	}
	if res.ExitCode != 0 {
		m.logger.Warn("mount remote volume",
			"bucket", m.opts.Bucket,
			"exit_code", res.ExitCode,
			"stderr", strings.TrimSpace(res.Stderr),
		)
		return false
	}

	m.logger.Info("remote volume mounted", "bucket", m.opts.Bucket, "path", m.opts.MountPath)
	return true
}

// isMounted probes whether the mount path already behaves as mounted.
func (m *Mounter) isMounted(ctx context.Context, sb sandbox.Sandbox) (bool, error) {
	res, err := sb.Exec(ctx, sandbox.ExecSpec{
		Command:  []string{"mountpoint", "-q", m.opts.MountPath},
		TimeoutS: mountExecTimeoutS,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
