package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spool/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	result := CheckDirectoryAccess("Audio directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass for %s, got detail %q", dir, result.Detail)
	}

	result = CheckDirectoryAccess("Audio directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Fatal("expected failure for missing directory")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}

	file := filepath.Join(dir, "plain-file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result = CheckDirectoryAccess("Audio directory", file)
	if result.Passed {
		t.Fatal("expected failure for non-directory path")
	}
}

func TestCheckEngineBinaryMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Extraction.Binary = "definitely-not-installed-anywhere"

	result := CheckEngineBinary(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for absent binary")
	}
	if !strings.Contains(result.Detail, "not found") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

func TestCheckEngineBinaryProbesVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	result := CheckEngineBinary(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got detail %q", result.Detail)
	}
	if !strings.Contains(result.Detail, testsupport.StubBinaryVersion) {
		t.Fatalf("expected probed version in detail, got %q", result.Detail)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	original := statfs
	defer func() { statfs = original }()

	statfs = func(string) (uint64, uint64, error) {
		return 64 << 30, 128 << 30, nil
	}
	result := CheckDiskSpace("Audio directory space", "/ignored")
	if !result.Passed {
		t.Fatalf("expected pass with ample space, got %q", result.Detail)
	}

	statfs = func(string) (uint64, uint64, error) {
		return 128 << 20, 128 << 30, nil
	}
	result = CheckDiskSpace("Audio directory space", "/ignored")
	if result.Passed {
		t.Fatal("expected failure when free space is below the floor")
	}
	if !strings.Contains(result.Detail, "128 MiB free") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}

	statfs = func(string) (uint64, uint64, error) {
		return 0, 0, errors.New("boom")
	}
	result = CheckDiskSpace("Audio directory space", "/ignored")
	if result.Passed {
		t.Fatal("expected failure when statfs errors")
	}
}

func TestRunAllReportsEveryCheck(t *testing.T) {
	original := statfs
	defer func() { statfs = original }()
	statfs = func(string) (uint64, uint64, error) {
		return 64 << 30, 128 << 30, nil
	}

	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.AudioDir, 0o755); err != nil {
		t.Fatalf("mkdir audio dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	cfg.Extraction.Binary = "definitely-not-installed-anywhere"

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(results))
	}
	if Passed(results) {
		t.Fatal("expected overall failure with absent binary")
	}
	summary := Summarize(results)
	if !strings.Contains(summary, "Extraction engine") {
		t.Fatalf("expected failing check named in summary, got %q", summary)
	}
}
