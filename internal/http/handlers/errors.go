// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them, not on
// messages. Every error response carries an HTTP status and one of these
// codes in the ErrorResponse envelope:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "payload_too_large",
//	  "message": "notification content exceeds the configured limit"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Ingestion:
	ErrCodeMalformedPayload = "malformed_payload"
	ErrCodePayloadTooLarge  = "payload_too_large"

	// Registration:
	ErrCodeInvalidUser      = "invalid_user"
	ErrCodeInvalidInterests = "invalid_interests"
	ErrCodeUserExists       = "user_exists"
	ErrCodeUserNotFound     = "user_not_found"

	// Administration:
	ErrCodeGroupNotFound       = "group_not_found"
	ErrCodeInvalidGroup        = "invalid_group"
	ErrCodeInvariantViolation  = "invariant_violation"
	ErrCodeBackupsDisabled     = "backups_disabled"
	ErrCodeBackupFailed        = "backup_failed"
	ErrCodeInvalidBroadcast    = "invalid_broadcast"
	ErrCodeDeliveryUnavailable = "delivery_unavailable"
)
