package model

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for propagation and retry decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed input rejected before
	// persistence. The caller must correct the input.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates a uniqueness or referential invariant
	// violation, rejected before persistence.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassClaimConflict indicates a lost trigger claim race.
	// Not fatal; the caller resumes polling.
	ErrorClassClaimConflict ErrorClass = "claim_conflict"

	// ErrorClassNotFound indicates the referenced entity does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassExecution indicates a failure raised while running a
	// unit of work. Contained per trigger, never fatal to a worker.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassStale indicates a running trigger whose heartbeat
	// exceeded the staleness window. Internal to the reaper.
	ErrorClassStale ErrorClass = "stale"
)

// Error is a classified control-plane error with optional entity context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass

	// Message is the human-readable error message.
	Message string

	// Entity identifies the entity involved, if applicable.
	Entity string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Entity != "" {
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.Entity)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithEntity adds entity context to an error.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewClaimConflictError creates a new claim conflict error.
func NewClaimConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassClaimConflict, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *Error {
	return &Error{Class: ErrorClassExecution, Message: message, Err: err}
}

// NewStaleError creates a new stale-trigger error.
func NewStaleError(message string, err error) *Error {
	return &Error{Class: ErrorClassStale, Message: message, Err: err}
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasClass(err, ErrorClassValidation) }

// IsConflict returns true if the error is a conflict error.
func IsConflict(err error) bool { return hasClass(err, ErrorClassConflict) }

// IsClaimConflict returns true if the error is a lost claim race.
func IsClaimConflict(err error) bool { return hasClass(err, ErrorClassClaimConflict) }

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool { return hasClass(err, ErrorClassNotFound) }

// IsExecution returns true if the error is an execution error.
func IsExecution(err error) bool { return hasClass(err, ErrorClassExecution) }

// IsStale returns true if the error is a stale-trigger error.
func IsStale(err error) bool { return hasClass(err, ErrorClassStale) }
