// Package remote defines the contract to the workforce-management API server
// and its HTTP implementation. The engine only ever sees typed outcomes; it
// never inspects transport errors or status codes itself, so the failure
// taxonomy is decided in exactly one place.
package remote

import (
	"context"
	"encoding/json"

	"github.com/rosterly/shiftsync/internal/domain"
)

// Outcome is the typed result of replaying one queued action.
//
// Exactly one of the following holds:
//   - OK is true: the mutation was applied; Body optionally carries the
//     server-assigned state (e.g. the created request with its final id).
//   - OK is false: Class carries the failure classification and Message a
//     short human-readable cause.
type Outcome struct {
	OK         bool
	Class      domain.FailureClass
	StatusCode int
	Body       json.RawMessage
	Message    string
}

// Success builds an OK outcome with the given response body.
func Success(status int, body json.RawMessage) Outcome {
	return Outcome{OK: true, StatusCode: status, Body: body}
}

// Failure builds a failed outcome.
func Failure(class domain.FailureClass, status int, msg string) Outcome {
	return Outcome{Class: class, StatusCode: status, Message: msg}
}

// Client performs the actual network calls for the sync core. Implementations
// must honor ctx for cancellation and timeouts and must send the action id as
// an idempotency key on every replay, so redelivery after a lost response
// cannot duplicate the server-side effect.
type Client interface {
	// Replay delivers one queued mutation to the server.
	Replay(ctx context.Context, action *domain.PendingAction) Outcome

	// FetchSchedules returns the date-bounded schedule snapshot.
	FetchSchedules(ctx context.Context, start, end string) ([]domain.Schedule, error)
	// FetchRequests returns the current request snapshot.
	FetchRequests(ctx context.Context) ([]domain.LeaveRequest, error)
	// FetchNotifications returns the current notification snapshot.
	FetchNotifications(ctx context.Context) ([]domain.Notification, error)
}
