// Package queue – sentinel errors.
//
// These are returned for predictable lifecycle violations so callers (the
// engine, the local API handlers) can map them to user-facing results
// consistently. They are returned synchronously and never persisted.
package queue

import "errors"

var (
	// ErrNotFound indicates that no queued action carries the given id.
	ErrNotFound = errors.New("action not found")

	// ErrInvalidState indicates a forbidden lifecycle transition, e.g.
	// cancelling an action that is already in flight or terminal.
	ErrInvalidState = errors.New("invalid action state")
)
