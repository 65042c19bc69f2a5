package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"spool/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.AudioDir = filepath.Join(base, "audio")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Jobs.QueuePollInterval = 1
	cfgVal.Events.HeartbeatSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxConcurrent overrides the worker pool size on the test config.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.MaxConcurrent = n
	}
}

// StubBinaryVersion is what stubbed binaries report for --version.
const StubBinaryVersion = "2026.01.01"

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, yt-dlp is stubbed. The stubs
// answer --version and exit cleanly for everything else.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yt-dlp"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo " + StubBinaryVersion + "; fi\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		if tb, ok := b.t.(*testing.T); ok {
			tb.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
		}
	}
}
