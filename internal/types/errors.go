package types

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Handlers map these onto HTTP status codes in
// pkg/response; services return them wrapped with context via %w.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("not authorized")
	ErrNotCancellable      = errors.New("order is not cancellable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientLocked  = errors.New("insufficient locked balance")
	ErrInvalidAmount       = errors.New("amount must be positive")

	// ErrSettlementConflict reports contention inside the atomic
	// settlement unit. It is retried internally and never surfaced to
	// callers.
	ErrSettlementConflict = errors.New("settlement conflict")
)

// ValidationError rejects a request before any state change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
