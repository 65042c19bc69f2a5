// Package worker runs the bounded pool that drives queued jobs through the
// extraction engine to a terminal state, caching the resulting audio.
package worker
