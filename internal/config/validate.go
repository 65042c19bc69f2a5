package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.AudioDir == "" {
		return errors.New("paths.audio_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxConcurrent > 16 {
		return fmt.Errorf("jobs.max_concurrent must be at most 16, got %d", c.Jobs.MaxConcurrent)
	}
	return nil
}

func (c *Config) validateExtraction() error {
	switch c.Extraction.AudioFormat {
	case "mp3", "m4a", "opus", "flac", "wav":
		return nil
	default:
		return fmt.Errorf("extraction.audio_format: unsupported value %q", c.Extraction.AudioFormat)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
