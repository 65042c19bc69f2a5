// Package config loads, normalizes, and validates spool's TOML configuration.
//
// Load resolves the config path (explicit flag, ~/.config/spool/config.toml,
// or ./spool.toml), merges file values over Default(), expands ~ in path
// fields, and applies environment overrides (SPOOL_AUDIO_DIR).
package config
