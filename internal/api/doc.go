// Package api defines the transport DTOs shared by the daemon's HTTP
// handlers and the client package, plus conversions from internal records.
package api
