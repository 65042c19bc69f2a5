// Package broadcast fans job progress events out to per-job subscriber
// sets over bounded channels. Delivery is best-effort per subscriber; the
// job store remains the source of truth for state.
package broadcast
