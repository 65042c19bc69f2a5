package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeCache()
	c.normalizeExtraction()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SPOOL_AUDIO_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.AudioDir = value
	}

	var err error
	if c.Paths.AudioDir, err = expandPath(c.Paths.AudioDir); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.MaxConcurrent <= 0 {
		c.Jobs.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Jobs.QueuePollInterval <= 0 {
		c.Jobs.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Jobs.TerminalRetentionHours <= 0 {
		c.Jobs.TerminalRetentionHours = defaultTerminalRetention
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.RetentionHours <= 0 {
		c.Cache.RetentionHours = defaultCacheRetentionHours
	}
	if c.Cache.SweepIntervalMinutes <= 0 {
		c.Cache.SweepIntervalMinutes = defaultCacheSweepMinutes
	}
}

func (c *Config) normalizeExtraction() {
	c.Extraction.Binary = strings.TrimSpace(c.Extraction.Binary)
	if c.Extraction.Binary == "" {
		c.Extraction.Binary = defaultExtractionBinary
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeout
	}
	c.Extraction.AudioFormat = strings.ToLower(strings.TrimSpace(c.Extraction.AudioFormat))
	if c.Extraction.AudioFormat == "" {
		c.Extraction.AudioFormat = defaultAudioFormat
	}
	if strings.TrimSpace(c.Extraction.AudioQuality) == "" {
		c.Extraction.AudioQuality = defaultAudioQuality
	}
	if c.Extraction.SearchTimeout <= 0 {
		c.Extraction.SearchTimeout = defaultSearchTimeoutSeconds
	}
}

func (c *Config) normalizeEvents() {
	if c.Events.HeartbeatSeconds <= 0 {
		c.Events.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.Events.SubscriberBuffer <= 0 {
		c.Events.SubscriberBuffer = defaultSubscriberBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
