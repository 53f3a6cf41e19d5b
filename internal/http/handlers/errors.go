// Error codes carried in ErrorResponse.Code. Clients branch on these, so
// they never change once published.

package handlers

const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"

	// Written by middleware, listed here for reference.
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeRateLimited  = "too_many_requests"

	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Sessions and turns
	ErrCodeTurnFailed        = "turn_failed"
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeSessionTerminated = "session_terminated"
	ErrCodeNotStarted        = "session_not_started"
	ErrCodeStoreUnavailable  = "store_unavailable"
	ErrCodeTurnInProgress    = "turn_in_progress"

	// Verification codes
	ErrCodeInvalidTarget      = "invalid_target"
	ErrCodeChannelUnavailable = "channel_unavailable"
	ErrCodeDeliveryFailed     = "delivery_failed"
	ErrCodeCodeNotFound       = "code_not_found"
	ErrCodeCodeExpired        = "code_expired"
	ErrCodeCodeMismatch       = "code_mismatch"
)
