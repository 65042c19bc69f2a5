package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"spool/internal/config"
	"spool/internal/services/ytdlp"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeBytes is the free-space floor on the audio directory before the
// daemon refuses to start.
const minFreeBytes uint64 = 1 << 30

// statfs is swappable for tests.
var statfs = realStatfs

// RunAll executes the daemon's startup checks against the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckEngineBinary(ctx, cfg),
		CheckDiskSpace("Audio directory space", cfg.Paths.AudioDir),
	}
}

// Passed reports whether every result succeeded.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Summarize joins failed check details into one message.
func Summarize(results []Result) string {
	var failures []string
	for _, result := range results {
		if !result.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
	}
	return strings.Join(failures, "; ")
}

// CheckDirectoryAccess verifies that the directory exists and is
// readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: access: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckEngineBinary verifies the extraction binary is on PATH and answers a
// version probe.
func CheckEngineBinary(ctx context.Context, cfg *config.Config) Result {
	name := "Extraction engine"
	binary := strings.TrimSpace(cfg.Extraction.Binary)
	if binary == "" {
		return Result{Name: name, Detail: "binary not configured"}
	}
	if _, err := exec.LookPath(binary); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("binary %q not found", binary)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	version, err := ytdlp.NewFromConfig(cfg).Version(probeCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("version probe failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: binary + " " + version}
}

// CheckDiskSpace verifies the filesystem holding path has room for new
// artifacts.
func CheckDiskSpace(name, path string) Result {
	free, total, err := statfs(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs: %v", err)}
	}
	if free < minFreeBytes {
		return Result{Name: name, Detail: fmt.Sprintf("only %d MiB free of %d MiB", free>>20, total>>20)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MiB free", free>>20)}
}

func realStatfs(path string) (free, total uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	return stat.Bavail * blockSize, stat.Blocks * blockSize, nil
}
