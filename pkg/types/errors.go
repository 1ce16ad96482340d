package types

import "errors"

// Wire error codes, shared by the error event and the HTTP error body.
// Every per-action failure maps to exactly one code. A code-editing
// version conflict is not on this list: it is delivered as a dedicated
// conflict event carrying the current state, never as an error.
const (
	CodeAuthenticationFailure = "AUTHENTICATION_FAILURE"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
)

// Validation errors shared across services.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidRoomID   = errors.New("room ID must be 1-128 characters, alphanumeric plus underscore/hyphen/colon")
	ErrInvalidRoomType = errors.New("invalid room type")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrContentTooLong  = errors.New("content exceeds maximum length")
)
