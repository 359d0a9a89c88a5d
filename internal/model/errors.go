package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy.
// Use errors.Is() to check against these.
var (
	ErrNetwork      = errors.New("network error")
	ErrApplication  = errors.New("application error")
	ErrSession      = errors.New("session error")
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrResourceBusy = errors.New("resource busy")
	ErrCooldown     = errors.New("cooldown active")
	ErrDegraded     = errors.New("coordinator degraded")
	ErrSuperseded   = errors.New("mutation superseded")
	ErrCapacity     = errors.New("session limit reached")
)

// ErrorKind classifies a failure for rollback and recovery decisions.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindApplication ErrorKind = "application"
	KindSession     ErrorKind = "session"
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindNotFound    ErrorKind = "not_found"
	KindInternal    ErrorKind = "internal"
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"-"` // HTTP status, not serialized
	Err        error     `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind != "" {
		return apiErr.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message carried by err.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "an internal error occurred"
}

// NewNetworkError creates a 502 error for transport failures with no usable response.
// The cause stays in the chain so callers can test for context.Canceled.
func NewNetworkError(service string, err error) *APIError {
	wrapped := ErrNetwork
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return &APIError{
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		Kind:       KindNetwork,
		StatusCode: 502,
		Err:        wrapped,
	}
}

// NewApplicationError creates a 422 error for a well-formed failure response.
// message is the platform-supplied text shown to the shopper.
func NewApplicationError(message string) *APIError {
	return &APIError{
		Code:       "APPLICATION_ERROR",
		Message:    message,
		Kind:       KindApplication,
		StatusCode: 422,
		Err:        ErrApplication,
	}
}

// NewSessionError creates a 401 error for a rejected security token.
func NewSessionError(reason string) *APIError {
	return &APIError{
		Code:       "SESSION_ERROR",
		Message:    reason,
		Kind:       KindSession,
		StatusCode: 401,
		Err:        ErrSession,
	}
}

// NewValidationError creates a 400 error for a failed client-side precondition.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    reason,
		Kind:       KindValidation,
		StatusCode: 400,
		Err:        fmt.Errorf("%w: %s", ErrValidation, field),
	}
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Kind:       KindNotFound,
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewBusyError creates a 409 error for an intent against a resource with a
// mutation still in flight.
func NewBusyError(resource string) *APIError {
	return &APIError{
		Code:       "RESOURCE_BUSY",
		Message:    fmt.Sprintf("%s is being updated", resource),
		Kind:       KindConflict,
		StatusCode: 409,
		Err:        ErrResourceBusy,
	}
}

// NewCooldownError creates a 429 error for intents inside the cooldown window.
func NewCooldownError(resource string) *APIError {
	return &APIError{
		Code:       "COOLDOWN",
		Message:    fmt.Sprintf("%s was just updated, please wait", resource),
		Kind:       KindConflict,
		StatusCode: 429,
		Err:        ErrCooldown,
	}
}

// NewDegradedError creates a 503 error returned while the session token is stale.
func NewDegradedError() *APIError {
	return &APIError{
		Code:       "SESSION_DEGRADED",
		Message:    "your session has expired, please reload",
		Kind:       KindSession,
		StatusCode: 503,
		Err:        ErrDegraded,
	}
}

// NewSupersededError creates a 409 error for a mutation cancelled by a newer intent.
func NewSupersededError(resource string) *APIError {
	return &APIError{
		Code:       "SUPERSEDED",
		Message:    fmt.Sprintf("update to %s was replaced by a newer one", resource),
		Kind:       KindConflict,
		StatusCode: 409,
		Err:        ErrSuperseded,
	}
}

// NewCapacityError creates a 503 error returned when no more sessions can be opened.
func NewCapacityError() *APIError {
	return &APIError{
		Code:       "SESSION_LIMIT",
		Message:    "too many active sessions, please try again later",
		Kind:       KindConflict,
		StatusCode: 503,
		Err:        ErrCapacity,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		Kind:       KindInternal,
		StatusCode: 500,
		Err:        err,
	}
}
