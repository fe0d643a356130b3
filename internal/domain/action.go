// Package domain defines the core data model shared across the sync engine:
// queued mutations, their lifecycle states, the failure taxonomy, cached
// snapshots, and the offline dataset. All types are plain JSON-serializable
// records; persistence happens through the store package.
package domain

import (
	"encoding/json"
	"time"
)

// ActionKind tags a queued mutation with the remote operation it represents.
// New kinds can be added without touching the queue or the engine loop; only
// the remote client needs a mapping for them.
type ActionKind string

const (
	// KindCreateRequest submits a leave/shift-change request.
	KindCreateRequest ActionKind = "create_request"
	// KindUpdateProfile updates the employee profile.
	KindUpdateProfile ActionKind = "update_profile"
	// KindMarkNotificationRead marks a single notification as read.
	KindMarkNotificationRead ActionKind = "mark_notification_read"
)

// ActionStatus is the lifecycle state of a PendingAction.
//
// Transitions (enforced by the queue):
//
//	Pending  → InFlight            (engine dequeues)
//	InFlight → removed             (remote confirmed; "Done" is never stored)
//	InFlight → Pending             (retryable failure, budget remaining; or pause)
//	InFlight → Failed              (terminal failure or budget exhausted)
//	Pending  → removed             (user cancellation)
//	Failed   → Pending             (user retry)
//	Failed   → removed             (user discard)
type ActionStatus string

const (
	StatusPending  ActionStatus = "pending"
	StatusInFlight ActionStatus = "in_flight"
	StatusDone     ActionStatus = "done"
	StatusFailed   ActionStatus = "failed"
)

// FailureClass classifies why a replay attempt did not succeed. The class
// decides the retry policy: network and server failures are retried with
// backoff, client and unresolved conflict failures are terminal.
type FailureClass string

const (
	// FailureNetwork covers timeouts, refused connections, and DNS errors.
	FailureNetwork FailureClass = "network_error"
	// FailureServer covers 5xx-equivalent remote responses.
	FailureServer FailureClass = "server_error"
	// FailureClient covers 4xx-equivalent responses (validation etc.);
	// the action needs user correction and is never retried automatically.
	FailureClient FailureClass = "client_error"
	// FailureConflict means the server state diverged from the local intent.
	FailureConflict FailureClass = "conflict"
)

// Retryable reports whether the class is subject to automatic retry.
func (f FailureClass) Retryable() bool {
	return f == FailureNetwork || f == FailureServer
}

// PendingAction is a queued, not-yet-confirmed mutation awaiting delivery.
//
// The ID doubles as the idempotency key sent to the server, so a retry after
// a lost response cannot duplicate the remote effect. IDs are generated once
// at enqueue time and never reused, even after the action is removed.
type PendingAction struct {
	ID        string          `json:"id"`
	Kind      ActionKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`

	// Seq is the insertion sequence number; queue order is FIFO by Seq.
	Seq uint64 `json:"seq"`

	// ClientKey optionally carries the Idempotency-Key the UI shell sent on
	// the local API, so a re-posted form does not enqueue twice.
	ClientKey string `json:"client_key,omitempty"`

	Status   ActionStatus `json:"status"`
	Attempts int          `json:"attempts"`

	// NextAttemptAt is when the action becomes eligible for replay again
	// after a backed-off failure. Zero means immediately eligible.
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`

	// LastError holds the most recent failure, if any.
	LastError *ActionError `json:"last_error,omitempty"`
}

// ActionError records a single failed replay attempt.
type ActionError struct {
	Class   FailureClass `json:"class"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// Ready reports whether the action is eligible for replay at the given time:
// it must be Pending and past any backoff deadline.
func (a *PendingAction) Ready(now time.Time) bool {
	if a.Status != StatusPending {
		return false
	}
	return a.NextAttemptAt.IsZero() || !now.Before(a.NextAttemptAt)
}

// SyncSession captures the outcome of one drain of the queue. Sessions are
// ephemeral: they exist for status reporting and logs and are never persisted.
type SyncSession struct {
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	SucceededIDs []string  `json:"succeeded_ids"`
	FailedIDs    []string  `json:"failed_ids"`
}
