// Package routing is the notification routing engine: the ingestion
// gateway, the match engine, the deduplication ledger and the delivery
// coordinator that turns a notification into per-group delivery intents.
package routing

import "errors"

var (
	// ErrMalformedPayload is returned by the gateway when a required field
	// (content, source link) is missing or blank.
	ErrMalformedPayload = errors.New("malformed notification payload")

	// ErrPayloadTooLarge is returned by the gateway when content exceeds the
	// configured rune bound.
	ErrPayloadTooLarge = errors.New("notification payload too large")

	// ErrDuplicateNotification is returned by the coordinator when the
	// deduplication key was already routed within the retention window or is
	// being routed concurrently. Callers treat it as a successful no-op.
	ErrDuplicateNotification = errors.New("notification already routed")
)
