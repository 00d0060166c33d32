// Package errors provides the unified error type for the orchestrator.
// Every user-visible failure carries a machine-readable code so callers can
// tell "service never registered" apart from "no healthy instance right now"
// without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the unified orchestrator error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// CodeOf extracts the ErrorCode from an error chain, or ErrCodeInternal if the
// error is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatusOf returns the recommended HTTP status for an error chain.
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// --- Common Error Constructors ---

// NotFound creates a new AppError for an unknown service name or instance id.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// NoHealthyInstance creates a new AppError for a service with zero healthy instances.
func NoHealthyInstance(service string) *AppError {
	return &AppError{
		Code: ErrCodeNoHealthyInstance, Message: fmt.Sprintf("Service %q has no healthy instance.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// CircuitOpen creates a new AppError for a fail-fast circuit breaker rejection.
func CircuitOpen(name string) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("Circuit breaker %q is open.", name),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"breaker": name},
	}
}

// DeliveryFailed creates a new AppError for a message that could not be delivered.
func DeliveryFailed(service string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeDeliveryFailed, Message: fmt.Sprintf("Delivery to service %q failed.", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service},
		Cause:   cause,
	}
}

// InvalidRegistration creates a new AppError for invalid registration input.
func InvalidRegistration(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidRegistration, Message: fmt.Sprintf("Invalid registration: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// QueueClosed creates a new AppError for operations against a closed queue.
func QueueClosed() *AppError {
	return &AppError{
		Code: ErrCodeQueueClosed, Message: "The message queue is closed.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
	}
}

// Timeout creates a new AppError for an operation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The operation took too long.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an unexpected internal failure.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: message,
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Cause: cause,
	}
}

// --- Predicates ---

// IsNotFound returns true if the error chain carries ErrCodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsNoHealthyInstance returns true if the error chain carries ErrCodeNoHealthyInstance.
func IsNoHealthyInstance(err error) bool { return CodeOf(err) == ErrCodeNoHealthyInstance }

// IsCircuitOpen returns true if the error chain carries ErrCodeCircuitOpen.
func IsCircuitOpen(err error) bool { return CodeOf(err) == ErrCodeCircuitOpen }

// IsRetryable returns true if the error chain is marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}
