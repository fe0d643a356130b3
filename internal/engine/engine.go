// Package engine implements the replay orchestrator: a two-state machine
// (Idle, Syncing) that drains the mutation queue serially once connectivity
// is stably online, classifies outcomes, applies backoff, resolves conflicts
// per kind, and folds confirmed server state back into the offline dataset.
//
// Invariants upheld here:
//   - At most one action is in flight at any time.
//   - An offline signal pauses the loop losslessly: the in-flight call runs
//     to completion, nothing new is dequeued, and any action still marked
//     in flight is reverted to pending.
//   - A queued action is only ever lost through explicit user cancellation
//     or discard, never by the engine.
//
// Observability: drain sessions and individual replays are traced with
// OpenTelemetry; counters and histograms are registered in metrics.go.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rosterly/shiftsync/internal/connectivity"
	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/queue"
	"github.com/rosterly/shiftsync/internal/remote"
	"github.com/rosterly/shiftsync/internal/store"
)

// State is the engine's replay state.
type State int32

const (
	// StateIdle means no drain is in progress.
	StateIdle State = iota
	// StateSyncing means the queue is being drained.
	StateSyncing
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}
	return "idle"
}

// ConflictPolicy decides what happens when the server reports a conflict for
// an action of a given kind.
type ConflictPolicy int

const (
	// ConflictDiscardAndRefresh drops the local action, re-fetches the
	// authoritative state for the affected slice, and treats the action as
	// done. This is the default (last-writer-wins posture).
	ConflictDiscardAndRefresh ConflictPolicy = iota
	// ConflictSurface marks the action terminally failed so the user decides.
	ConflictSurface
)

// Default backoff tuning: base 1s, doubling, capped at 5 minutes.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
)

// Options wires an Engine.
type Options struct {
	Queue   *queue.Queue
	Client  remote.Client
	Dataset *store.DatasetStore
	Monitor *connectivity.Monitor
	Logger  zerolog.Logger

	// BackoffBase/BackoffCap tune the per-action exponential backoff.
	// Zero values select the defaults.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// ConflictPolicies overrides the conflict policy per action kind.
	// Kinds not listed use ConflictDiscardAndRefresh.
	ConflictPolicies map[domain.ActionKind]ConflictPolicy

	// CallTimeout bounds each individual replay call. Zero disables the
	// engine-level bound (the remote client still applies its own).
	CallTimeout time.Duration
}

// Engine drives replay. Construct with New, start with Start, stop by
// cancelling the context or calling Close.
type Engine struct {
	queue    *queue.Queue
	client   remote.Client
	dataset  *store.DatasetStore
	monitor  *connectivity.Monitor
	log      zerolog.Logger
	policies map[domain.ActionKind]ConflictPolicy

	backoffBase time.Duration
	backoffCap  time.Duration
	callTimeout time.Duration

	state atomic.Int32
	kick  chan struct{}
	stop  chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	boffs       map[string]*backoff.ExponentialBackOff
	lastSession *domain.SyncSession
	lastError   *domain.ActionError
	started     bool
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	base := opts.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceil := opts.BackoffCap
	if ceil <= 0 {
		ceil = DefaultBackoffCap
	}
	policies := make(map[domain.ActionKind]ConflictPolicy, len(opts.ConflictPolicies))
	for k, v := range opts.ConflictPolicies {
		policies[k] = v
	}
	return &Engine{
		queue:       opts.Queue,
		client:      opts.Client,
		dataset:     opts.Dataset,
		monitor:     opts.Monitor,
		log:         opts.Logger,
		policies:    policies,
		backoffBase: base,
		backoffCap:  ceil,
		callTimeout: opts.CallTimeout,
		kick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// State returns the current replay state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// LastSession returns a copy of the most recent completed sync session, or
// nil when none has run yet.
func (e *Engine) LastSession() *domain.SyncSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSession == nil {
		return nil
	}
	out := *e.lastSession
	return &out
}

// LastError returns the most recent terminal failure surfaced by the engine,
// or nil. It is cleared once the affected action is retried or discarded and
// a later session completes cleanly.
func (e *Engine) LastError() *domain.ActionError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastError == nil {
		return nil
	}
	out := *e.lastError
	return &out
}

// Notify nudges the engine that new work was enqueued. Safe to call from any
// goroutine; duplicate nudges coalesce.
func (e *Engine) Notify() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start launches the replay loop. Calling Start twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.run(ctx)
}

// Close stops the loop and waits for it to exit. Durable state is already
// consistent at every point, so Close is safe to call at any time.
func (e *Engine) Close() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		<-e.done
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	// Crash/restart recovery: anything left in flight by a previous process
	// is retried, never dropped.
	if n, err := e.queue.RecoverInFlight(); err != nil {
		e.log.Error().Err(err).Msg("in-flight recovery failed")
	} else if n > 0 {
		e.log.Info().Int("recovered", n).Msg("reverted in-flight actions to pending")
	}

	sub := e.monitor.Subscribe()
	defer sub.Cancel()

	// Wake timer for backed-off actions becoming eligible again.
	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	maybeDrain := func() {
		if !e.monitor.Online() {
			return
		}
		e.drain(ctx)
		e.rearm(wake)
	}

	// Drain immediately if we start online with queued work.
	maybeDrain()

	for {
		select {
		case <-ctx.Done():
			e.pause()
			return
		case <-e.stop:
			e.pause()
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Subscription gone; stop losslessly like any other exit.
				e.pause()
				return
			}
			if ev.Online {
				e.log.Info().Msg("connectivity stable, draining queue")
				maybeDrain()
			} else {
				e.log.Info().Msg("connectivity lost, sync paused")
			}
		case <-e.kick:
			maybeDrain()
		case <-wake.C:
			maybeDrain()
		}
	}
}

// rearm points the wake timer at the earliest backoff deadline, if any.
func (e *Engine) rearm(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if at, ok := e.queue.NextReadyAt(time.Now()); ok {
		d := time.Until(at)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		t.Reset(d)
	} else {
		t.Reset(time.Hour)
	}
}

// pause is the lossless stop path shared by shutdown and context
// cancellation: whatever is marked in flight reverts to pending.
func (e *Engine) pause() {
	if n, err := e.queue.RecoverInFlight(); err != nil {
		e.log.Error().Err(err).Msg("pause recovery failed")
	} else if n > 0 {
		e.log.Info().Int("recovered", n).Msg("paused with in-flight action reverted")
	}
	e.state.Store(int32(StateIdle))
}

// drain replays eligible actions serially until the queue has none left,
// connectivity drops, or the context ends.
func (e *Engine) drain(ctx context.Context) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		return
	}
	defer e.state.Store(int32(StateIdle))

	tr := otel.Tracer("engine/SyncEngine")
	ctx, span := tr.Start(ctx, "drain")
	defer span.End()

	session := &domain.SyncSession{StartedAt: time.Now().UTC()}
	defer func() {
		session.EndedAt = time.Now().UTC()
		sessionDur.Observe(session.EndedAt.Sub(session.StartedAt).Seconds())
		e.mu.Lock()
		e.lastSession = session
		e.mu.Unlock()
		e.updateDepth()
	}()

	for {
		select {
		case <-ctx.Done():
			e.pause()
			return
		case <-e.stop:
			e.pause()
			return
		default:
		}

		// Offline during syncing: finish nothing new; the action that was in
		// flight has already reached a terminal mark by this point.
		if !e.monitor.Online() {
			e.log.Info().Msg("went offline mid-drain, pausing")
			e.pause()
			return
		}

		a := e.queue.PeekNext(time.Now())
		if a == nil {
			return
		}
		e.replayOne(ctx, a, session)
		e.updateDepth()
	}
}

// replayOne runs a single action through mark-in-flight → remote call →
// outcome handling.
func (e *Engine) replayOne(ctx context.Context, a *domain.PendingAction, session *domain.SyncSession) {
	tr := otel.Tracer("engine/SyncEngine")
	ctx, span := tr.Start(ctx, "replay",
		trace.WithAttributes(
			attribute.String("action.id", a.ID),
			attribute.String("action.kind", string(a.Kind)),
			attribute.Int("action.attempts", a.Attempts),
		),
	)
	defer span.End()

	if err := e.queue.MarkInFlight(a.ID); err != nil {
		e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark in-flight failed")
		return
	}

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	start := time.Now()
	outcome := e.client.Replay(callCtx, a)
	replayLat.WithLabelValues(string(a.Kind)).Observe(time.Since(start).Seconds())

	switch {
	case outcome.OK:
		replayTotal.WithLabelValues(string(a.Kind), "success").Inc()
		if err := e.queue.MarkDone(a.ID); err != nil {
			e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark done failed")
			return
		}
		e.forget(a.ID)
		e.applyServerState(ctx, a, outcome)
		session.SucceededIDs = append(session.SucceededIDs, a.ID)
		e.log.Info().Str("action_id", a.ID).Str("kind", string(a.Kind)).Msg("action synced")

	case outcome.Class == domain.FailureConflict:
		replayTotal.WithLabelValues(string(a.Kind), "conflict").Inc()
		e.resolveConflict(ctx, a, outcome, session)

	case outcome.Class.Retryable():
		replayTotal.WithLabelValues(string(a.Kind), string(outcome.Class)).Inc()
		cause := domain.ActionError{Class: outcome.Class, Message: outcome.Message, At: time.Now().UTC()}
		delay := e.nextBackoff(a.ID)
		terminal, err := e.queue.MarkFailedRetryable(a.ID, cause, time.Now().Add(delay))
		if err != nil {
			e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark retryable failed")
			return
		}
		if terminal {
			e.forget(a.ID)
			e.surface(cause)
			session.FailedIDs = append(session.FailedIDs, a.ID)
			e.log.Warn().Str("action_id", a.ID).Str("class", string(cause.Class)).
				Msg("retry budget exhausted, action failed terminally")
		} else {
			e.log.Debug().Str("action_id", a.ID).Dur("backoff", delay).
				Str("class", string(cause.Class)).Msg("retryable failure, backing off")
		}

	default: // client error: terminal, needs user correction
		replayTotal.WithLabelValues(string(a.Kind), string(domain.FailureClient)).Inc()
		cause := domain.ActionError{Class: domain.FailureClient, Message: outcome.Message, At: time.Now().UTC()}
		if err := e.queue.MarkFailedTerminal(a.ID, cause); err != nil {
			e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark terminal failed")
			return
		}
		e.forget(a.ID)
		e.surface(cause)
		session.FailedIDs = append(session.FailedIDs, a.ID)
		e.log.Warn().Str("action_id", a.ID).Int("status", outcome.StatusCode).
			Msg("client error, action failed terminally")
	}
}

// resolveConflict applies the per-kind conflict policy.
func (e *Engine) resolveConflict(ctx context.Context, a *domain.PendingAction, outcome remote.Outcome, session *domain.SyncSession) {
	policy := ConflictDiscardAndRefresh
	if p, ok := e.policies[a.Kind]; ok {
		policy = p
	}

	cause := domain.ActionError{Class: domain.FailureConflict, Message: outcome.Message, At: time.Now().UTC()}

	if policy == ConflictSurface {
		if err := e.queue.MarkFailedTerminal(a.ID, cause); err != nil {
			e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark conflict terminal failed")
			return
		}
		e.forget(a.ID)
		e.surface(cause)
		session.FailedIDs = append(session.FailedIDs, a.ID)
		e.log.Warn().Str("action_id", a.ID).Msg("conflict surfaced to user")
		return
	}

	// Discard-and-refresh: the local action loses, the server wins.
	if err := e.queue.MarkDone(a.ID); err != nil {
		e.log.Error().Err(err).Str("action_id", a.ID).Msg("mark conflict done failed")
		return
	}
	e.forget(a.ID)
	e.refresh(ctx, a)
	e.log.Info().Str("action_id", a.ID).Str("kind", string(a.Kind)).
		Msg("conflict resolved: local action discarded, state refreshed")
}

// applyServerState folds a successful outcome's body into the offline
// dataset, replacing the optimistic local entry with authoritative state.
func (e *Engine) applyServerState(ctx context.Context, a *domain.PendingAction, outcome remote.Outcome) {
	err := e.dataset.Update(func(ds *domain.OfflineDataset) error {
		now := time.Now().UTC()
		ds.LastSync = now

		switch a.Kind {
		case domain.KindCreateRequest:
			var rec domain.LeaveRequest
			if len(outcome.Body) > 0 && json.Unmarshal(outcome.Body, &rec) == nil && rec.ID != "" {
				replaced := false
				for i := range ds.Requests.Data {
					if ds.Requests.Data[i].ID == a.ID {
						ds.Requests.Data[i] = rec
						replaced = true
						break
					}
				}
				if !replaced {
					ds.Requests.Data = append(ds.Requests.Data, rec)
				}
				if ds.Requests.FetchedAt.IsZero() {
					ds.Requests.FetchedAt = now
				}
			} else {
				// No usable body: just clear the pending flag locally.
				for i := range ds.Requests.Data {
					if ds.Requests.Data[i].ID == a.ID {
						ds.Requests.Data[i].PendingSync = false
						ds.Requests.Data[i].Status = "pending"
					}
				}
			}

		case domain.KindUpdateProfile:
			var p domain.Profile
			if len(outcome.Body) > 0 && json.Unmarshal(outcome.Body, &p) == nil && p.EmployeeID != "" {
				ds.Profile = &p
			}

		case domain.KindMarkNotificationRead:
			var p struct {
				NotificationID string `json:"notification_id"`
			}
			if json.Unmarshal(a.Payload, &p) == nil && p.NotificationID != "" {
				for i := range ds.Notifications.Data {
					if ds.Notifications.Data[i].ID == p.NotificationID {
						ds.Notifications.Data[i].Read = true
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Str("action_id", a.ID).Msg("apply server state failed")
	}
}

// refresh re-fetches the authoritative slice affected by a discarded action.
// Best effort: a failed refresh leaves the previous snapshot intact.
func (e *Engine) refresh(ctx context.Context, a *domain.PendingAction) {
	now := time.Now().UTC()
	switch a.Kind {
	case domain.KindCreateRequest:
		items, err := e.client.FetchRequests(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("request refresh after conflict failed")
			return
		}
		e.saveRequests(items, now)
	case domain.KindMarkNotificationRead:
		items, err := e.client.FetchNotifications(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("notification refresh after conflict failed")
			return
		}
		e.saveNotifications(items, now)
	case domain.KindUpdateProfile:
		// No profile fetch endpoint; the next full refresh reconciles it.
	}
}

func (e *Engine) saveRequests(items []domain.LeaveRequest, now time.Time) {
	err := e.dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Requests = domain.Snapshot[domain.LeaveRequest]{Data: items, FetchedAt: now}
		ds.LastSync = now
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("persist request snapshot failed")
	}
}

func (e *Engine) saveNotifications(items []domain.Notification, now time.Time) {
	err := e.dataset.Update(func(ds *domain.OfflineDataset) error {
		ds.Notifications = domain.Snapshot[domain.Notification]{Data: items, FetchedAt: now}
		ds.LastSync = now
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("persist notification snapshot failed")
	}
}

// nextBackoff returns the next delay for the action, creating its per-action
// backoff state on first failure: base interval, doubling, capped.
func (e *Engine) nextBackoff(id string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.boffs == nil {
		e.boffs = make(map[string]*backoff.ExponentialBackOff)
	}
	bo, ok := e.boffs[id]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = e.backoffBase
		bo.Multiplier = 2
		bo.MaxInterval = e.backoffCap
		bo.RandomizationFactor = 0
		bo.Reset()
		e.boffs[id] = bo
	}
	return bo.NextBackOff()
}

// forget drops per-action backoff state once the action reaches a terminal
// mark or leaves the queue.
func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.boffs, id)
}

// surface records a terminal failure for the status read model.
func (e *Engine) surface(cause domain.ActionError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = &cause
}

// updateDepth refreshes the queue depth gauges.
func (e *Engine) updateDepth() {
	pending, failed := e.queue.Counts()
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("failed").Set(float64(failed))
}
