// Package services defines shared utilities consumed by the worker pool and
// external integrations.
//
// Key responsibilities:
//   - Sentinel error markers plus the Wrap helper that classify failures
//     consistently across transports (HTTP status mapping, CLI exit paths).
//   - Context helpers that stamp job identifiers and stage names for logging.
//   - The yt-dlp subpackage wrapping the extraction engine binary.
package services
