package main

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/seantiz/porter/internal/api"
	"github.com/seantiz/porter/internal/config"
	"github.com/seantiz/porter/internal/gateway"
	"github.com/seantiz/porter/internal/proxy"
	"github.com/seantiz/porter/internal/sandbox"
	"github.com/seantiz/porter/internal/storage"
	"github.com/seantiz/porter/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("porter: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sandbox", cfg.SandboxName,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	sandboxes := sandbox.NewRegistry(func(name string) sandbox.Sandbox {
		return sandbox.NewClient(name, cfg.SandboxAddr)
	})

	gatewayAddr := fmt.Sprintf("%s:%d", agentHost(cfg.SandboxAddr), cfg.GatewayPort)
	manager := gateway.NewManager(sandboxes, db, gateway.HTTPProbe(gatewayAddr), logger, gateway.Options{
		SandboxName:   cfg.SandboxName,
		GatewayPort:   cfg.GatewayPort,
		APIKey:        cfg.APIKey,
		TelegramToken: cfg.TelegramToken,
		DiscordToken:  cfg.DiscordToken,
	})

	mounter := storage.NewMounter(sandboxes, logger, storage.MountOptions{
		SandboxName: cfg.SandboxName,
		Credentials: storage.Credentials{
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretAccessKey,
			AccountID:       cfg.StorageAccountID,
		},
		Bucket:    cfg.StorageBucket,
		MountPath: cfg.MountPath,
	})
	syncer := storage.NewSyncer(sandboxes, mounter, db, logger, storage.SyncOptions{
		SandboxName: cfg.SandboxName,
		StateDir:    cfg.StateDir,
		MountPath:   cfg.MountPath,
	})

	scheduler, err := storage.NewScheduler(syncer, cfg.SyncSchedule, logger)
	if err != nil {
		log.Fatalf("invalid sync schedule: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	px := proxy.New(gatewayAddr, logger)

	srv := api.NewServer(cfg.ListenAddr, manager, syncer, db, sandboxes, cfg.SandboxName, px, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// agentHost strips the port from the control agent address; the gateway
// listens on its own port at the same host.
func agentHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
