package main

import (
	"testing"

	"spool/internal/logging"
	"spool/internal/testsupport"
)

func TestBuildDaemonWiresComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	d, err := buildDaemon(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("buildDaemon: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close daemon: %v", err)
	}
}
