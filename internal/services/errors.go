// Package services defines the application logic around the routing core:
// user registration, notification ingestion, administration and start-up
// hydration. This file centralizes service-level error values so handlers
// can map them to HTTP results consistently.
package services

import "errors"

var (
	// ErrUserNotFound indicates that the user does not exist or was removed.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering an id that is already an
	// active user. Interests of active users are changed with
	// UpdateInterests.
	ErrUserExists = errors.New("user already registered")

	// ErrInvalidUser is returned when registration metadata fails
	// validation (missing id, malformed e-mail, oversized fields).
	ErrInvalidUser = errors.New("invalid user data")

	// ErrGroupNotFound indicates that the group handle is unknown.
	ErrGroupNotFound = errors.New("group not found")

	// ErrInvalidGroup is returned for admin group input that fails
	// validation (missing chat id, non-positive capacity).
	ErrInvalidGroup = errors.New("invalid group data")

	// ErrBackupsDisabled is returned by backup operations when no backup
	// manager is configured.
	ErrBackupsDisabled = errors.New("backups are disabled")

	// ErrInvalidBroadcast is returned for an empty or oversized broadcast.
	ErrInvalidBroadcast = errors.New("invalid broadcast")

	// ErrDeliveryUnavailable is returned when no delivery queue is wired.
	ErrDeliveryUnavailable = errors.New("delivery is unavailable")
)
