// Package handlers – HTTP-layer error codes.
//
// Stable machine-readable codes supplementing the HTTP status. Generic codes
// mirror common status semantics; domain-specific codes cover queue lifecycle
// violations and fetch failures that status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidState = "invalid_state"
	ErrCodeFetchFailed  = "fetch_failed"
	ErrCodeQueueFailed  = "queue_failed"
)
