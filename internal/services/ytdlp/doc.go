// Package ytdlp wraps the yt-dlp executable behind the extraction engine
// boundary: audio extraction with incremental progress, metadata-only
// catalog search, and version probing.
package ytdlp
