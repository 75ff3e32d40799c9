package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "porter.db"
	defaultSandboxName  = "primary"
	defaultSandboxAddr  = "127.0.0.1:9090"
	defaultGatewayPort  = 18789
	defaultStateDir     = "/var/lib/gateway"
	defaultMountPath    = "/mnt/backup"
	defaultBucket       = "porter-backup"
	defaultSyncSchedule = "@every 15m"

	envListenAddr   = "PORTER_LISTEN_ADDR"
	envDBPath       = "PORTER_DB_PATH"
	envLogLevel     = "PORTER_LOG_LEVEL"
	envSandboxName  = "PORTER_SANDBOX_NAME"
	envSandboxAddr  = "PORTER_SANDBOX_ADDR"
	envGatewayPort  = "PORTER_GATEWAY_PORT"
	envAPIKey       = "PORTER_API_KEY"
	envTelegram     = "PORTER_TELEGRAM_TOKEN"
	envDiscord      = "PORTER_DISCORD_TOKEN"
	envAccessKey    = "PORTER_STORAGE_ACCESS_KEY_ID"
	envSecretKey    = "PORTER_STORAGE_SECRET_ACCESS_KEY"
	envAccountID    = "PORTER_STORAGE_ACCOUNT_ID"
	envBucket       = "PORTER_STORAGE_BUCKET"
	envStateDir     = "PORTER_STATE_DIR"
	envMountPath    = "PORTER_MOUNT_PATH"
	envSyncSchedule = "PORTER_SYNC_SCHEDULE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// SandboxName keys the logical sandbox instance; SandboxAddr is the
	// address of its control agent. Exactly one sandbox exists per deployment.
	SandboxName string
	SandboxAddr string

	// GatewayPort is the fixed port the gateway process listens on inside
	// the sandbox.
	GatewayPort int

	// APIKey is the AI-provider credential the gateway requires to start.
	APIKey string

	// Optional integration tokens. Absence disables the integration, it is
	// not an error.
	TelegramToken string
	DiscordToken  string

	// Remote storage credentials. All three are required for storage
	// features; partial presence behaves as absence.
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageAccountID       string
	StorageBucket          string

	// StateDir is the gateway state directory mirrored by the sync job;
	// MountPath is where the remote volume is attached.
	StateDir  string
	MountPath string

	// SyncSchedule is a cron spec for the backup sync job.
	SyncSchedule string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		SandboxName:   defaultSandboxName,
		SandboxAddr:   defaultSandboxAddr,
		GatewayPort:   defaultGatewayPort,
		StorageBucket: defaultBucket,
		StateDir:      defaultStateDir,
		MountPath:     defaultMountPath,
		SyncSchedule:  defaultSyncSchedule,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envSandboxName); v != "" {
		cfg.SandboxName = v
	}
	if v := os.Getenv(envSandboxAddr); v != "" {
		cfg.SandboxAddr = v
	}
	if v := os.Getenv(envGatewayPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.GatewayPort = port
		}
	}
	cfg.APIKey = os.Getenv(envAPIKey)
	cfg.TelegramToken = os.Getenv(envTelegram)
	cfg.DiscordToken = os.Getenv(envDiscord)
	cfg.StorageAccessKeyID = os.Getenv(envAccessKey)
	cfg.StorageSecretAccessKey = os.Getenv(envSecretKey)
	cfg.StorageAccountID = os.Getenv(envAccountID)
	if v := os.Getenv(envBucket); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv(envStateDir); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv(envMountPath); v != "" {
		cfg.MountPath = v
	}
	if v := os.Getenv(envSyncSchedule); v != "" {
		cfg.SyncSchedule = v
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
