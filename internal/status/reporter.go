// Package status derives the human-facing sync status from the queue, the
// engine, and the connectivity monitor. It is a pure read model: no mutating
// operations, no side effects, safe to poll from the UI at any rate.
package status

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rosterly/shiftsync/internal/connectivity"
	"github.com/rosterly/shiftsync/internal/domain"
	"github.com/rosterly/shiftsync/internal/engine"
	"github.com/rosterly/shiftsync/internal/queue"
)

// Snapshot is one consistent view of sync state for the UI layer.
type Snapshot struct {
	Offline      bool                `json:"offline"`
	State        string              `json:"state"` // idle|syncing
	PendingCount int                 `json:"pending_count"`
	FailedCount  int                 `json:"failed_count"`
	LastError    *domain.ActionError `json:"last_error,omitempty"`
	// Message is a short human status string, e.g. "Synchronizing…",
	// "3 changes pending", "Sync failed for 1 item".
	Message string `json:"message"`
}

// Reporter assembles status snapshots. All dependencies are read-only.
type Reporter struct {
	queue   *queue.Queue
	engine  *engine.Engine
	monitor *connectivity.Monitor
	titler  cases.Caser
}

// NewReporter builds a Reporter over the given components.
func NewReporter(q *queue.Queue, e *engine.Engine, m *connectivity.Monitor) *Reporter {
	return &Reporter{
		queue:   q,
		engine:  e,
		monitor: m,
		titler:  cases.Title(language.English),
	}
}

// Snapshot returns the current status view.
func (r *Reporter) Snapshot() Snapshot {
	pending, failed := r.queue.Counts()
	state := r.engine.State()
	offline := !r.monitor.Online()

	s := Snapshot{
		Offline:      offline,
		State:        state.String(),
		PendingCount: pending,
		FailedCount:  failed,
		LastError:    r.engine.LastError(),
	}
	s.Message = message(offline, state, pending, failed)
	return s
}

// Describe renders a short human label for one queued action, e.g.
// "Create Request (2 attempts, waiting to sync)".
func (r *Reporter) Describe(a *domain.PendingAction) string {
	kind := r.titler.String(strings.ReplaceAll(string(a.Kind), "_", " "))
	switch a.Status {
	case domain.StatusInFlight:
		return kind + " (syncing)"
	case domain.StatusFailed:
		if a.LastError != nil {
			return fmt.Sprintf("%s (failed: %s)", kind, a.LastError.Class)
		}
		return kind + " (failed)"
	default:
		if a.Attempts > 0 {
			return fmt.Sprintf("%s (%s, waiting to retry)", kind, plural(a.Attempts, "attempt"))
		}
		return kind + " (waiting to sync)"
	}
}

// message picks the status line. Failure outranks progress, progress
// outranks pending count, and an empty queue reads as fully synced.
func message(offline bool, state engine.State, pending, failed int) string {
	switch {
	case failed > 0:
		return fmt.Sprintf("Sync failed for %s", plural(failed, "item"))
	case state == engine.StateSyncing:
		return "Synchronizing…"
	case pending > 0:
		if offline {
			return fmt.Sprintf("Offline — %s pending", plural(pending, "change"))
		}
		return fmt.Sprintf("%s pending", plural(pending, "change"))
	case offline:
		return "Offline — all changes synced"
	default:
		return "All changes synced"
	}
}

// plural renders "1 item" / "3 items".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
