// Package domain – offline dataset.
//
// This file defines the cached snapshots the mobile client reads while
// disconnected, and the domain records they contain. Snapshots are replaced
// wholesale by successful fetches and are read-only everywhere else, so a
// reader can never observe a partially written snapshot.
package domain

import "time"

// Schedule is one shift assignment in the employee's roster.
type Schedule struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	Date       string    `json:"date"` // YYYY-MM-DD
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Role       string    `json:"role,omitempty"`
	Location   string    `json:"location,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LeaveRequest is a leave or shift-change request. While a request is only
// queued locally its ID is the pending action id and PendingSync is true;
// after a successful replay the server-assigned record replaces it.
type LeaveRequest struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employee_id"`
	Kind        string    `json:"kind"` // vacation|sick|shift_change|unpaid
	From        string    `json:"from"` // YYYY-MM-DD
	To          string    `json:"to"`   // YYYY-MM-DD
	Reason      string    `json:"reason,omitempty"`
	Status      string    `json:"status"` // draft|pending|approved|rejected
	PendingSync bool      `json:"pending_sync,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is a message pushed to the employee (schedule change,
// request decision, announcement).
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile holds the employee-editable profile fields.
type Profile struct {
	EmployeeID string `json:"employee_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Snapshot is one complete, internally consistent fetch of a dataset slice.
// A snapshot is either absent (zero FetchedAt) or whole; partial writes are
// not representable.
type Snapshot[T any] struct {
	Data      []T           `json:"data"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl,omitempty"`
}

// Present reports whether the snapshot holds a completed fetch.
func (s Snapshot[T]) Present() bool { return !s.FetchedAt.IsZero() }

// Stale reports whether the snapshot is older than its TTL at the given time.
// Snapshots without a TTL never go stale.
func (s Snapshot[T]) Stale(now time.Time) bool {
	if !s.Present() || s.TTL <= 0 {
		return false
	}
	return now.Sub(s.FetchedAt) > s.TTL
}

// OfflineDataset is everything the client can show while disconnected.
// Slices are overwritten wholesale by successful fetches or optimistic
// updates; the engine and services never mutate them in place.
type OfflineDataset struct {
	Schedules     Snapshot[Schedule]     `json:"schedules"`
	Requests      Snapshot[LeaveRequest] `json:"requests"`
	Notifications Snapshot[Notification] `json:"notifications"`
	Drafts        []LeaveRequest         `json:"drafts,omitempty"`
	Profile       *Profile               `json:"profile,omitempty"`
	LastSync      time.Time              `json:"last_sync"`
}
