// Package errors implements the structured AppError used across every
// core component: errors are values, not control-flow exceptions, and each
// value carries the HTTP status and correlation metadata its caller needs.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorType is the closed taxonomy of error kinds (kinds, not names).
type ErrorType string

const (
	// ErrorTypeValidation: caller-supplied input fails a contract.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeAuth: missing/invalid session, or caller not a tenant member.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeNotFound: referenced resource absent or soft-deleted.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict: optimistic concurrency failure during a state
	// transition. Internal; callers on the worker path move on silently.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeUpstream: Meta Graph API or a customer destination returned
	// a non-2xx or network failure. Never surfaced to a caller directly.
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeTransient: database timeout, connection reset. Behaves like
	// ErrorTypeUpstream on worker paths; 500 on API paths.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeFatal: misconfiguration detected at startup.
	ErrorTypeFatal ErrorType = "fatal"
)

// AppError is a structured application error.
type AppError struct {
	Type          ErrorType              `json:"type"`
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// ToJSON marshals the full structured AppError (type, code, message and the
// other populated fields), not a bare {error: message} object.
func (e *AppError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewAppError creates a new application error with the type's default
// HTTP status.
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		HTTPStatus: getDefaultHTTPStatus(errorType),
	}
}

// NewAppErrorWithCause creates a new application error wrapping cause.
func NewAppErrorWithCause(errorType ErrorType, code, message string, cause error) *AppError {
	err := NewAppError(errorType, code, message)
	err.Cause = cause
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

func getDefaultHTTPStatus(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeTransient:
		return http.StatusInternalServerError
	case ErrorTypeFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors

func NewValidationError(field, message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message).
		WithMetadata("field", field)
}

// NewUnauthenticatedError reports a missing or invalid session (401).
func NewUnauthenticatedError(message string) *AppError {
	return NewAppError(ErrorTypeAuth, "UNAUTHENTICATED", message)
}

// NewForbiddenError reports a caller who is authenticated but not a member
// of the tenant the operation targets (403).
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrorTypeAuth, "FORBIDDEN", message).WithHTTPStatus(http.StatusForbidden)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithMetadata("resource", resource)
}

// NewConflictError reports an optimistic-concurrency failure. Callers on
// the worker path typically swallow this and re-claim on the next cycle.
func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

// NewUpstreamError reports a non-2xx or network failure from Meta or a
// customer destination. Never meant to propagate to an API caller as-is.
func NewUpstreamError(service string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorTypeUpstream, "UPSTREAM_ERROR",
		fmt.Sprintf("upstream call to %s failed", service), cause).
		WithMetadata("service", service)
}

// NewTransientError reports a database timeout or connection reset.
func NewTransientError(operation string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorTypeTransient, "TRANSIENT_ERROR",
		fmt.Sprintf("transient failure during %s", operation), cause).
		WithMetadata("operation", operation)
}

// NewFatalError reports misconfiguration detected at startup.
func NewFatalError(component, message string) *AppError {
	return NewAppError(ErrorTypeFatal, "FATAL_ERROR", message).
		WithMetadata("component", component)
}

// IsErrorType checks if an error is of a specific type.
func IsErrorType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetErrorType returns the error type if it's an AppError.
func GetErrorType(err error) (ErrorType, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type, true
	}
	return "", false
}

// GetCorrelationID extracts correlation ID from an error.
func GetCorrelationID(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.CorrelationID
	}
	return ""
}
