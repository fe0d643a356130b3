// Package services defines the application-level operations behind the
// UI-facing surface. This file centralizes the service-level error values so
// they can be consistently returned by service methods and mapped to HTTP
// results by the handlers.
package services

import "errors"

var (
	// ErrInvalidRequest is returned when a leave/shift-change request is
	// missing required fields or uses an unknown kind.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidDateRange is returned when a date is not YYYY-MM-DD or the
	// range is inverted.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidProfile is returned when a profile update is missing the
	// employee id or a display name.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrEmptyNotificationID is returned when a mark-read call carries no
	// notification id.
	ErrEmptyNotificationID = errors.New("notification id is empty")
)
