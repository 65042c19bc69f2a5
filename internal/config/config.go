package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	AudioDir string `toml:"audio_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
}

// Jobs contains worker pool and job retention settings.
type Jobs struct {
	MaxConcurrent          int `toml:"max_concurrent"`
	QueuePollInterval      int `toml:"queue_poll_interval"`
	TerminalRetentionHours int `toml:"terminal_retention_hours"`
}

// Cache contains artifact cache retention settings.
type Cache struct {
	RetentionHours       int `toml:"retention_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Extraction contains settings for the yt-dlp extraction boundary.
type Extraction struct {
	Binary         string `toml:"binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AudioFormat    string `toml:"audio_format"`
	AudioQuality   string `toml:"audio_quality"`
	SearchTimeout  int    `toml:"search_timeout_seconds"`
}

// Events contains progress stream settings.
type Events struct {
	HeartbeatSeconds int `toml:"heartbeat_seconds"`
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for spool.
type Config struct {
	Paths      Paths      `toml:"paths"`
	Jobs       Jobs       `toml:"jobs"`
	Cache      Cache      `toml:"cache"`
	Extraction Extraction `toml:"extraction"`
	Events     Events     `toml:"events"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/spool/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The boolean reports whether a
// file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("spool.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.AudioDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to path without
// overwriting an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
