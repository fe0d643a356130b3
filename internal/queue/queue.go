// Package queue implements the durable mutation queue: an ordered ledger of
// PendingAction records layered on the local store. The queue is passive: it
// validates lifecycle transitions and persists every change before returning,
// but the "at most one action in flight" rule is enforced by the engine that
// drives it.
//
// Ordering: FIFO by insertion sequence. A backed-off action keeps its place
// but becomes invisible to PeekNext until its next-attempt time passes, so a
// single stuck action does not block unrelated ones.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/store"
)

// DefaultMaxAttempts is the retry budget applied when none is configured.
const DefaultMaxAttempts = 5

// ledger is the persisted form of the queue: the monotone sequence counter
// plus the ordered action list, stored as one JSON record.
type ledger struct {
	NextSeq uint64                 `json:"next_seq"`
	Actions []domain.PendingAction `json:"actions"`
}

// Queue is the durable mutation queue. All methods are safe for concurrent
// use; every mutation is written to the store before the method returns.
type Queue struct {
	store       store.Store
	maxAttempts int

	mu     sync.Mutex
	ledger ledger
}

// New loads (or initializes) the queue from s. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func New(s store.Store, maxAttempts int) (*Queue, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	q := &Queue{store: s, maxAttempts: maxAttempts}

	raw, err := s.Get(store.KeyQueue)
	switch err {
	case nil:
		if err := json.Unmarshal(raw, &q.ledger); err != nil {
			return nil, fmt.Errorf("decode queue record: %w", err)
		}
	case store.ErrNotFound:
		q.ledger = ledger{NextSeq: 1}
	default:
		return nil, fmt.Errorf("load queue record: %w", err)
	}
	return q, nil
}

// MaxAttempts returns the configured retry budget.
func (q *Queue) MaxAttempts() int { return q.maxAttempts }

// persist writes the ledger under its well-known key. Callers hold q.mu.
func (q *Queue) persist() error {
	raw, err := json.Marshal(q.ledger)
	if err != nil {
		return fmt.Errorf("encode queue record: %w", err)
	}
	if err := q.store.Set(store.KeyQueue, raw); err != nil {
		return fmt.Errorf("persist queue record: %w", err)
	}
	return nil
}

// find returns the index of the action with id, or -1. Callers hold q.mu.
func (q *Queue) find(id string) int {
	for i := range q.ledger.Actions {
		if q.ledger.Actions[i].ID == id {
			return i
		}
	}
	return -1
}

// Enqueue appends a new Pending action and durably persists it before
// returning, so an acknowledged enqueue survives an immediate crash. The
// returned action carries the generated id used as the idempotency key.
func (q *Queue) Enqueue(kind domain.ActionKind, payload json.RawMessage, clientKey string) (*domain.PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a := domain.PendingAction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Seq:       q.ledger.NextSeq,
		ClientKey: clientKey,
		Status:    domain.StatusPending,
	}
	q.ledger.NextSeq++
	q.ledger.Actions = append(q.ledger.Actions, a)

	if err := q.persist(); err != nil {
		// Roll the in-memory append back so memory and disk stay in step.
		q.ledger.Actions = q.ledger.Actions[:len(q.ledger.Actions)-1]
		q.ledger.NextSeq--
		return nil, err
	}
	out := a
	return &out, nil
}

// FindByClientKey returns the queued action carrying the given client-side
// idempotency key, or nil. Used by the local API to absorb shell retries.
func (q *Queue) FindByClientKey(key string) *domain.PendingAction {
	if key == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ledger.Actions {
		if q.ledger.Actions[i].ClientKey == key {
			out := q.ledger.Actions[i]
			return &out
		}
	}
	return nil
}

// Get returns a copy of the action with id, or ErrNotFound.
func (q *Queue) Get(id string) (*domain.PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	out := q.ledger.Actions[i]
	return &out, nil
}

// PeekNext returns a copy of the oldest action eligible for replay at now
// (Pending and past any backoff deadline), or nil when none is eligible.
func (q *Queue) PeekNext(now time.Time) *domain.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ledger.Actions {
		if q.ledger.Actions[i].Ready(now) {
			out := q.ledger.Actions[i]
			return &out
		}
	}
	return nil
}

// NextReadyAt returns the earliest future next-attempt time among backed-off
// Pending actions, so the engine knows when to wake up. ok is false when no
// Pending action is waiting on a deadline.
func (q *Queue) NextReadyAt(now time.Time) (at time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ledger.Actions {
		a := &q.ledger.Actions[i]
		if a.Status != domain.StatusPending || a.NextAttemptAt.IsZero() || now.After(a.NextAttemptAt) {
			continue
		}
		if !ok || a.NextAttemptAt.Before(at) {
			at, ok = a.NextAttemptAt, true
		}
	}
	return at, ok
}

// MarkInFlight transitions a Pending action to InFlight.
func (q *Queue) MarkInFlight(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	if q.ledger.Actions[i].Status != domain.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, q.ledger.Actions[i].Status)
	}
	q.ledger.Actions[i].Status = domain.StatusInFlight
	return q.persist()
}

// MarkDone removes a confirmed action from the queue. Done entries are never
// stored; removal is the durable acknowledgment.
func (q *Queue) MarkDone(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	if q.ledger.Actions[i].Status != domain.StatusInFlight {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, q.ledger.Actions[i].Status)
	}
	q.ledger.Actions = append(q.ledger.Actions[:i], q.ledger.Actions[i+1:]...)
	return q.persist()
}

// MarkFailedRetryable records a retryable failure: attempts is incremented,
// and the action either reverts to Pending with the given backoff deadline or
// becomes terminally Failed once attempts reaches the budget.
// The returned flag reports whether the action is now terminal.
func (q *Queue) MarkFailedRetryable(id string, cause domain.ActionError, nextAttemptAt time.Time) (terminal bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return false, ErrNotFound
	}
	a := &q.ledger.Actions[i]
	if a.Status != domain.StatusInFlight {
		return false, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, a.Status)
	}
	a.Attempts++
	a.LastError = &cause
	if a.Attempts >= q.maxAttempts {
		a.Status = domain.StatusFailed
		a.NextAttemptAt = time.Time{}
		return true, q.persist()
	}
	a.Status = domain.StatusPending
	a.NextAttemptAt = nextAttemptAt
	return false, q.persist()
}

// MarkFailedTerminal records a non-retryable failure: the action moves to
// Failed immediately and stays visible until the user retries or discards it.
func (q *Queue) MarkFailedTerminal(id string, cause domain.ActionError) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	a := &q.ledger.Actions[i]
	if a.Status != domain.StatusInFlight {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, a.Status)
	}
	a.Attempts++
	a.LastError = &cause
	a.Status = domain.StatusFailed
	a.NextAttemptAt = time.Time{}
	return q.persist()
}

// Cancel removes a still-Pending action. Once an action has been dequeued it
// must run to a terminal state, so cancelling anything else fails with
// ErrInvalidState. This avoids a split brain where the server applied an
// effect the client believes was cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	if q.ledger.Actions[i].Status != domain.StatusPending {
		return fmt.Errorf("%w: cannot cancel %s action %s", ErrInvalidState, q.ledger.Actions[i].Status, id)
	}
	q.ledger.Actions = append(q.ledger.Actions[:i], q.ledger.Actions[i+1:]...)
	return q.persist()
}

// Retry is the user acknowledgment path for a terminal failure: the action
// returns to Pending with a fresh retry budget.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	a := &q.ledger.Actions[i]
	if a.Status != domain.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, id, a.Status)
	}
	a.Status = domain.StatusPending
	a.Attempts = 0
	a.NextAttemptAt = time.Time{}
	return q.persist()
}

// Discard removes a terminally Failed action. This is the only path besides
// Cancel by which a queued action can be lost, and both are user-initiated.
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(id)
	if i < 0 {
		return ErrNotFound
	}
	if q.ledger.Actions[i].Status != domain.StatusFailed {
		return fmt.Errorf("%w: cannot discard %s action %s", ErrInvalidState, q.ledger.Actions[i].Status, id)
	}
	q.ledger.Actions = append(q.ledger.Actions[:i], q.ledger.Actions[i+1:]...)
	return q.persist()
}

// RecoverInFlight reverts any InFlight actions to Pending and reports how
// many were recovered. Called at startup and on pause, so an action caught
// mid-replay by a crash or an offline transition is retried, never dropped.
func (q *Queue) RecoverInFlight() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.ledger.Actions {
		if q.ledger.Actions[i].Status == domain.StatusInFlight {
			q.ledger.Actions[i].Status = domain.StatusPending
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, q.persist()
}

// List returns an ordered copy of all queued actions.
func (q *Queue) List() []domain.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.PendingAction, len(q.ledger.Actions))
	copy(out, q.ledger.Actions)
	return out
}

// Counts returns how many actions are pending (including in flight) and how
// many are terminally failed.
func (q *Queue) Counts() (pending, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ledger.Actions {
		switch q.ledger.Actions[i].Status {
		case domain.StatusPending, domain.StatusInFlight:
			pending++
		case domain.StatusFailed:
			failed++
		}
	}
	return pending, failed
}

// Len returns the total number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ledger.Actions)
}
