// Package main is the entry point for the agentbot booking runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/agentbot/internal/admin"
	"github.com/nugget/agentbot/internal/audit"
	"github.com/nugget/agentbot/internal/booker"
	"github.com/nugget/agentbot/internal/buildinfo"
	"github.com/nugget/agentbot/internal/bus"
	"github.com/nugget/agentbot/internal/config"
	"github.com/nugget/agentbot/internal/lifecycle"
	"github.com/nugget/agentbot/internal/lock"
	"github.com/nugget/agentbot/internal/monitor"
	"github.com/nugget/agentbot/internal/planner"
	"github.com/nugget/agentbot/internal/provider"
	"github.com/nugget/agentbot/internal/runtime"
	"github.com/nugget/agentbot/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(buildinfo.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger, *configPath); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return fmt.Errorf("locate config: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting agentbot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"bus", cfg.Bus,
	)

	var storeOpts []session.Option
	if cfg.SessionKey != "" {
		storeOpts = append(storeOpts, session.WithEncryptionKey(cfg.SessionKey))
	}
	store, err := session.Open(cfg.SessionStorePath, storeOpts...)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	logger.Info("session store opened", "path", cfg.SessionStorePath, "sessions", len(store.List()))

	auditLogger, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLogger.Close()

	messageBus, err := newBus(cfg, logger)
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}

	lockManager, err := newLockManager(cfg)
	if err != nil {
		return fmt.Errorf("init lock manager: %w", err)
	}

	plan := planner.New()
	rt := runtime.New(store, messageBus, plan, cfg.PollIntervalSeconds, logger)

	siteProvider := provider.Unconfigured{}

	rt.Bootstrap(
		func(agentCfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			agent := monitor.New(agentCfg, siteProvider, messageBus, plan, logger)
			return agent.Worker(), nil
		},
		func(agentCfg session.AgentConfig, rec session.Record) (*lifecycle.Worker, error) {
			agent := booker.New(agentCfg, siteProvider, messageBus, lockManager, plan, auditLogger, cfg.LockTTL(), logger)
			return agent.Worker(), nil
		},
	)

	var adminServer *admin.Server
	if cfg.AdminListen != "" {
		adminServer = admin.NewServer(cfg.AdminListen, rt, store, logger)
		go func() {
			if err := adminServer.Start(); err != nil {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	ctx := context.Background()
	err = rt.RunForever(ctx)

	if adminServer != nil {
		_ = adminServer.Shutdown(context.Background())
	}

	logger.Info("agentbot stopped")
	return err
}

func newBus(cfg *config.Config, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Bus {
	case "redis":
		return bus.NewRedis(cfg.RedisURL, logger)
	default:
		return bus.NewMemory(), nil
	}
}

func newLockManager(cfg *config.Config) (lock.Manager, error) {
	if cfg.Bus == "redis" {
		return lock.NewRedis(cfg.RedisURL)
	}
	return lock.NewMemory(), nil
}
