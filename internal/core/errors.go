package core

import (
	"context"
	"errors"
	"fmt"
)

// Class partitions provider failures for circuit-breaker accounting.
type Class string

const (
	ClassTransport   Class = "transport"
	ClassAuth        Class = "auth"
	ClassRateLimited Class = "rate_limited"
	ClassSchema      Class = "schema"
	ClassNotFound    Class = "not_found"
)

// Error is a structured error with a stable code, a failure class and an
// optional cause.
type Error struct {
	Code    string
	Class   Class
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code and class but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Class:   base.Class,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Provider failure taxonomy
	ErrTransport   = &Error{Code: "PROVIDER_TRANSPORT", Class: ClassTransport, Message: "provider transport failure"}
	ErrAuth        = &Error{Code: "PROVIDER_AUTH", Class: ClassAuth, Message: "provider credentials rejected"}
	ErrRateLimited = &Error{Code: "PROVIDER_RATE_LIMITED", Class: ClassRateLimited, Message: "provider reported throttling"}
	ErrSchema      = &Error{Code: "PROVIDER_SCHEMA", Class: ClassSchema, Message: "provider response shape mismatch"}
	ErrNotFound    = &Error{Code: "ENTITY_NOT_FOUND", Class: ClassNotFound, Message: "entity not known to provider"}

	// Cache errors
	ErrCacheFailed = &Error{Code: "CACHE_FAILED", Class: ClassTransport, Message: "cache operation failed"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Class: ClassSchema, Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Class: ClassSchema, Message: "required configuration missing"}
)

// ClassOf maps an arbitrary provider error onto a failure class. Deadline
// expiry and unclassified errors count as transport failures.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) && ce.Class != "" {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransport
	}
	return ClassTransport
}

// CountsAgainstBreaker reports whether a failure of this class should be
// charged to the provider's circuit breaker. A not-found is a valid negative
// result, not a provider failure.
func CountsAgainstBreaker(c Class) bool {
	return c != ClassNotFound
}
