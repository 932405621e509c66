package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and reporting logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: the control plane is unavailable or overloaded.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCancelled indicates the operator declined a confirmation gate.
	// Nothing has been mutated when this class is returned.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassValidation indicates malformed desired configuration.
	// Examples: unknown enum tag, missing required field, breaking schema change.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassRemoteRejection indicates the control plane refused a mutation.
	// Examples: deleting a service the gateway still references.
	ErrorClassRemoteRejection ErrorClass = "remote_rejection"

	// ErrorClassPermanent indicates any other non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource identifier that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.unwrapMessage()
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, msg)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Class, e.Message, e.Resource, msg)
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
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
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewCancelledError creates a new cancelled error.
func NewCancelledError(message string) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Message: message, Code: ErrCodeCancelled}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err, Code: ErrCodeValidation}
}

// NewRemoteRejectionError creates a new remote rejection error.
func NewRemoteRejectionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRemoteRejection, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
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

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

// IsCancelled returns true if the operator declined a confirmation gate.
func IsCancelled(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassCancelled
}

// IsValidation returns true if the error is classified as a validation failure.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsRemoteRejection returns true if the control plane rejected a mutation.
func IsRemoteRejection(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRemoteRejection
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPermanent
}

// IsRetryable returns true if the error can be retried.
// Only transient errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeStillReferenced  = "STILL_REFERENCED"
	ErrCodeSchemaBreaking   = "SCHEMA_BREAKING_CHANGE"
	ErrCodePolicyViolation  = "POLICY_VIOLATION"
)

// ErrCancelled is returned when a confirmation gate is declined.
var ErrCancelled = NewCancelledError("apply cancelled: no resources were modified")
