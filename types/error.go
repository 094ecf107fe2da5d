package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the mesh.
type ErrorCode string

// Input and state error codes
const (
	ErrValidation         ErrorCode = "VALIDATION"
	ErrInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrHealthCheckExpired ErrorCode = "HEALTH_CHECK_EXPIRED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
)

// Dispatch error codes
const (
	ErrTransientTransport ErrorCode = "TRANSIENT_TRANSPORT"
	ErrTransport          ErrorCode = "TRANSPORT"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrBulkheadFull       ErrorCode = "BULKHEAD_FULL"
	ErrBulkheadTimeout    ErrorCode = "BULKHEAD_TIMEOUT"
	ErrRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	ErrNoEligibleAgent    ErrorCode = "NO_ELIGIBLE_AGENT"
	ErrWithdrawn          ErrorCode = "WITHDRAWN"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so package
// sentinels match any error carrying their code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// NewValidationError reports malformed input. Never retried.
func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// NewInvariantViolation reports an illegal state transition.
func NewInvariantViolation(format string, args ...any) *Error {
	return NewError(ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// NewTransientTransportError wraps a transport failure worth retrying.
func NewTransientTransportError(message string, cause error) *Error {
	return NewError(ErrTransientTransport, message).WithCause(cause).WithRetryable(true)
}

// NewTransportError wraps a permanent transport failure.
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrTransport, message).WithCause(cause)
}
