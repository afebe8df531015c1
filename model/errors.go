package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrRateLimited        = "RATE_LIMITED"
)

// List controller error codes.
const (
	// ErrFetch marks a data provider failure. Non-fatal: stale data is kept.
	ErrFetch = "FETCH_ERROR"
	// ErrConfiguration marks a composition mistake raised to the caller.
	ErrConfiguration = "CONFIGURATION_ERROR"
	// ErrPersistence marks a key-value store failure. Never propagated by
	// the controllers, only logged.
	ErrPersistence = "PERSISTENCE_ERROR"
)

// ErrorEnvelope is the standard error value used across listctl.
// It implements the error interface and unwraps to its cause.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ErrorEnvelope) Unwrap() error {
	return e.Cause
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRateLimited, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The data provider is temporarily unavailable",
		Cause:   cause,
	}
}

// NewFetchError wraps a data provider failure for the given resource.
func NewFetchError(resource string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrFetch,
		Message: fmt.Sprintf("fetching %q failed", resource),
		Cause:   cause,
	}
}

// NewConfigurationError returns a CONFIGURATION_ERROR.
func NewConfigurationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConfiguration, Message: msg}
}

// NewPersistenceError wraps a store failure for the given key.
func NewPersistenceError(key string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPersistence,
		Message: fmt.Sprintf("store entry %q unavailable", key),
		Cause:   cause,
	}
}

// IsCode reports whether err, or any error it wraps, is an ErrorEnvelope
// with the given code.
func IsCode(err error, code string) bool {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
