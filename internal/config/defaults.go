package config

const (
	defaultAudioDir             = "~/.local/share/spool/audio"
	defaultLogDir               = "~/.local/share/spool/logs"
	defaultAPIBind              = "127.0.0.1:5180"
	defaultMaxConcurrent        = 3
	defaultQueuePollInterval    = 5
	defaultTerminalRetention    = 24
	defaultCacheRetentionHours  = 24
	defaultCacheSweepMinutes    = 60
	defaultExtractionBinary     = "yt-dlp"
	defaultExtractionTimeout    = 600
	defaultAudioFormat          = "mp3"
	defaultAudioQuality         = "192K"
	defaultSearchTimeoutSeconds = 30
	defaultHeartbeatSeconds     = 25
	defaultSubscriberBuffer     = 16
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			AudioDir: defaultAudioDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Jobs: Jobs{
			MaxConcurrent:          defaultMaxConcurrent,
			QueuePollInterval:      defaultQueuePollInterval,
			TerminalRetentionHours: defaultTerminalRetention,
		},
		Cache: Cache{
			RetentionHours:       defaultCacheRetentionHours,
			SweepIntervalMinutes: defaultCacheSweepMinutes,
		},
		Extraction: Extraction{
			Binary:         defaultExtractionBinary,
			TimeoutSeconds: defaultExtractionTimeout,
			AudioFormat:    defaultAudioFormat,
			AudioQuality:   defaultAudioQuality,
			SearchTimeout:  defaultSearchTimeoutSeconds,
		},
		Events: Events{
			HeartbeatSeconds: defaultHeartbeatSeconds,
			SubscriberBuffer: defaultSubscriberBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
