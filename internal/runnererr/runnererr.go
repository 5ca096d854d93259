// Package runnererr defines the sentinel errors shared across the runner core,
// checked with errors.Is rather than type assertions or string matching.
package runnererr

import "errors"

var (
	// ErrNotFound is returned when a repository lookup finds no row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed names the outcome where another caller won the race
	// to advance a queue row to in_progress. The stores' ClaimQueueItem
	// methods report that outcome as (false, nil) and do not return it.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrShuttingDown names the state in which graceful shutdown has begun
	// and new pickups are suppressed. The Scheduler stops picking up work in
	// that state without returning this error.
	ErrShuttingDown = errors.New("runner is shutting down")

	// ErrConflict is returned when a mutation would violate a uniqueness
	// invariant (e.g. a duplicate agent name within a workspace).
	ErrConflict = errors.New("conflict")
)
