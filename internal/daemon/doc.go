// Package daemon wires the job store, content cache, worker pool, and
// broadcast hub into a single-instance background process exposing the
// HTTP API: job submission, server-sent progress events, audio streaming,
// catalog search, cache administration, and health.
package daemon
