// Package main hosts the spool CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: job submission with live progress, queue
// listings, catalog search, cache administration, health checks, and
// configuration scaffolding. It centralizes configuration resolution and
// daemon address discovery so subcommands can focus on user experience
// instead of wiring.
package main
