package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/preflight"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	_ = godotenv.Load()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	results := preflight.RunAll(ctx, cfg)
	for _, result := range results {
		if result.Passed {
			logger.Info("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
		} else {
			logger.Error("preflight check failed", logging.String("check", result.Name), logging.String("detail", result.Detail))
		}
	}
	if !preflight.Passed(results) {
		logger.Error("startup aborted", logging.String("failures", preflight.Summarize(results)))
		os.Exit(1)
	}

	d, err := buildDaemon(cfg, logger)
	if err != nil {
		logger.Error("build daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close() //nolint:errcheck

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("spoold listening", logging.String("addr", d.Addr()))

	<-ctx.Done()
	logger.Info("spoold shutting down")
}
