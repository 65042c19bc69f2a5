// Package client provides the HTTP API client for a spool daemon and the
// subscription manager that consumes server-sent progress events with an
// authoritative-poll fallback on broken streams.
package client
