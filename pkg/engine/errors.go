// Package engine implements the code pool allocation and reconciliation engine.
// It hands out and reclaims codes from a fixed pool, drives creation and
// deletion of externally managed stacks, and reconciles local records against
// the external resource manager that is the source of truth.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: concurrent modifications, conditional write failures.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid selection, permission denied, record not found.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// Message is safe to return to callers; the wrapped Err may contain raw
// upstream error text and is intended for logs only.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the machine-readable error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// CodeID is the pool-slot identifier that caused the error, if applicable.
	CodeID string `json:"code_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.CodeID != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (code=%s, operation=%s): %s",
			e.Class, e.Message, e.CodeID, e.Operation, e.unwrapMessage())
	}
	if e.CodeID != "" {
		return fmt.Sprintf("[%s] %s (code=%s): %s",
			e.Class, e.Message, e.CodeID, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithCodeID adds the pool-slot identifier to an error.
func (e *EngineError) WithCodeID(id string) *EngineError {
	e.CodeID = id
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried by the caller.
// Transient and throttled errors are retryable; conflicts require a re-read,
// access-denied and validation errors must not be retried.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// HasCode returns true if the error carries the given machine-readable code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record or a
// missing external resource.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound) || HasCode(err, ErrCodeResourceNotFound)
}

// Error codes exposed to callers of the engine.
const (
	ErrCodePoolExhausted      = "POOL_EXHAUSTED"
	ErrCodeInvalidSelection   = "INVALID_SELECTION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	ErrCodeOperationInFlight  = "OPERATION_IN_PROGRESS"
	ErrCodeAlreadyInProgress  = "ALREADY_IN_PROGRESS"
	ErrCodeExternalThrottled  = "EXTERNAL_SERVICE_THROTTLED"
	ErrCodeExternalDown       = "EXTERNAL_SERVICE_UNAVAILABLE"
	ErrCodeExternalDenied     = "EXTERNAL_SERVICE_ACCESS_DENIED"
	ErrCodeExternalValidation = "EXTERNAL_SERVICE_VALIDATION"
	ErrCodeStoreThrottled     = "STORE_THROTTLED"
	ErrCodeStoreDown          = "STORE_UNAVAILABLE"
	ErrCodeStoreDenied        = "STORE_ACCESS_DENIED"
	ErrCodeBatchPartial       = "BATCH_PARTIALLY_FAILED"
	ErrCodeConditionFailed    = "CONDITION_FAILED"
	ErrCodeUnknown            = "UNKNOWN"
)
