package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input rejected before any repository access.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the email or username is already registered.
	ErrConflict = errors.New("email or username already in use")
	// ErrUnauthorized is returned for every failed password login, whatever the cause.
	ErrUnauthorized = errors.New("invalid email or password")
	// ErrInvalidOrExpired covers unknown, consumed and expired single-use tokens alike.
	ErrInvalidOrExpired = errors.New("token is invalid or has expired")
	// ErrNotFound indicates no account matches the request.
	ErrNotFound = errors.New("account not found")
	// ErrAlreadyVerified indicates the account's email is already verified.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrLinkFailed indicates an external identity could not be resolved to an account.
	ErrLinkFailed = errors.New("account linking failed")
	// ErrProviderDisabled indicates the requested external provider is not configured.
	ErrProviderDisabled = errors.New("identity provider is not enabled")
	// ErrInvalidSession indicates the session token is malformed, forged, expired or orphaned.
	ErrInvalidSession = errors.New("invalid or expired session")
	// ErrInternal wraps repository and crypto failures not caused by caller input.
	ErrInternal = errors.New("internal error")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match ValidationError with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
