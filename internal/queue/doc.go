// Package queue provides persistent job storage and lifecycle management.
//
// Jobs are stored in SQLite with WAL journaling so the daemon's worker pool,
// HTTP handlers, and maintenance loops can share one database file. Status
// transitions are guarded UPDATE statements: a transition that matches zero
// rows is classified as either an unknown job or an invalid transition, never
// silently ignored. Progress is monotonic per job; late or out-of-order
// updates keep the highest recorded percentage.
package queue
