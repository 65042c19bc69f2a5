// Package logging builds the slog loggers used throughout spool.
//
// Two output formats are supported: a hand-rolled console handler that
// prefixes lines with the component attribute, and standard JSON for
// machine consumption. Helpers re-export the slog attr constructors so
// call sites stay terse.
package logging
