package main

import (
	"fmt"
	"log/slog"
	"time"

	"spool/internal/broadcast"
	"spool/internal/cache"
	"spool/internal/config"
	"spool/internal/daemon"
	"spool/internal/orchestrator"
	"spool/internal/queue"
	"spool/internal/services/ytdlp"
	"spool/internal/worker"
)

// buildDaemon wires the daemon's shared components from configuration.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	artifacts, err := cache.New(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open artifact cache: %w", err)
	}

	hub := broadcast.NewHub(
		cfg.Events.SubscriberBuffer,
		time.Duration(cfg.Events.HeartbeatSeconds)*time.Second,
		logger,
	)
	engine := ytdlp.NewFromConfig(cfg)
	pool := worker.NewPool(cfg, store, engine, artifacts, hub, logger)
	orc := orchestrator.New(cfg, store, artifacts, hub, engine, pool, logger)

	d, err := daemon.New(cfg, store, artifacts, hub, pool, orc, logger)
	if err != nil {
		_ = store.Close()
		_ = artifacts.Close()
		return nil, err
	}
	return d, nil
}
