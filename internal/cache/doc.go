// Package cache stores extracted audio artifacts on disk with a SQLite
// index keyed by content identity.
//
// Writes are all-or-nothing: the payload lands in a temp file that is
// renamed into place before the index row appears, so a lookup never sees a
// partially written artifact. Readers hold a reference on their locator that
// defers age-based eviction until the stream finishes.
package cache
