package registry

import (
	"errors"
	"fmt"
)

// ErrorCategory defines the normalized failure taxonomy for Registry calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the Registry took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorOutage indicates the Registry is unreachable or returned a
	// server-side failure.
	ErrorOutage ErrorCategory = "outage"

	// ErrorNotFound indicates the Registry definitively has no record.
	// This is an answer, not a failure, and is never retryable.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorBadData indicates the Registry returned a malformed response.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorInternal indicates an unexpected client-side error.
	ErrorInternal ErrorCategory = "internal"
)

// Error wraps Registry failures with normalized categorization so callers
// never have to string-match transport errors.
type Error struct {
	Category   ErrorCategory
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registry %s [%s]: %s: %v", e.Operation, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registry %s [%s]: %s", e.Operation, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized Registry error. Timeouts and outages are
// retryable; everything else is not.
func NewError(category ErrorCategory, operation, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorOutage,
	}
}

// IsNotFound reports whether err is a definitive "Registry has no record".
func IsNotFound(err error) bool {
	return CategoryOf(err) == ErrorNotFound
}

// IsUnavailable reports whether err is a transient infrastructure failure.
func IsUnavailable(err error) bool {
	c := CategoryOf(err)
	return c == ErrorTimeout || c == ErrorOutage
}

// CategoryOf extracts the error category, defaulting to internal.
func CategoryOf(err error) ErrorCategory {
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	return ErrorInternal
}

// IsRetryable reports whether the call is worth retrying.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
