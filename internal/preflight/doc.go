// Package preflight runs the daemon's startup checks: directory access,
// extraction binary availability, and free disk space.
package preflight
