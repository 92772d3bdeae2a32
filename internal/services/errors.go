package services

import (
	"errors"
	"fmt"
)

// Validation failures. They are reported to the caller as client errors
// and nothing is persisted.
var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrEmptyRecord     = errors.New("record has no document data")
	ErrPaymentRequired = errors.New("payment not completed")
)

var (
	// ErrPersistFailed is returned when the document store rejected a
	// submission. Mirrors have been attempted regardless.
	ErrPersistFailed = errors.New("failed to save record")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotConfigured     = errors.New("server not configured")
	ErrSignatureMismatch = errors.New("payment verification failed")

	// ErrUpstream wraps failures of the model, storage and payment APIs.
	ErrUpstream = errors.New("upstream service failed")
)

// IsValidation reports whether err is one of the validation failures.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrEmptyRecord) || errors.Is(err, ErrPaymentRequired)
}

// DuplicateError reports an identity number that is already on file.
type DuplicateError struct {
	Field  string
	Value  string
	Source string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s %q found in %s", e.Field, e.Value, e.Source)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func upstream(message string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, message, err)
}
