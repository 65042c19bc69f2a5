// Package orchestrator coordinates job creation and lookup across the
// content cache, the job store, the broadcast hub, and the worker pool.
// Jobs are keyed by content identity: a cached artifact short-circuits to a
// synthesized completed record and an in-flight job absorbs duplicate
// requests.
package orchestrator
