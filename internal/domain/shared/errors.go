// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. It depends only on pkg/timeutil.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "session"
	Op      string // Operation that failed, e.g., "Award", "ParseStart"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching. A DomainError matches its Kind,
// its wrapped error, and any DomainError carrying the same Domain, Op,
// Kind and Message.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok &&
		e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind && e.Message == t.Message {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap attaches an underlying cause to a sentinel DomainError, keeping it
// matchable with errors.Is against the sentinel.
func (e *DomainError) Wrap(err error) *DomainError {
	return WrapError(e.Domain, e.Op, e.Kind, e.Message, err)
}

// Progress domain errors
var (
	ErrLearnerIDRequired      = NewDomainError("progress", "Validate", ErrEmptyValue, "learner id is required")
	ErrUnknownEventKind       = NewDomainError("progress", "ParseEventKind", ErrInvalidInput, "unknown event kind")
	ErrProgressNotFound       = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrDuplicateUnlock        = NewDomainError("progress", "UnlockBadge", ErrAlreadyExists, "badge already unlocked")
	ErrInvalidBadgeDefinition = NewDomainError("progress", "ValidateBadge", ErrValidation, "invalid badge definition")
	ErrInvalidLimit           = NewDomainError("progress", "Validate", ErrValueOutOfRange, "limit out of range")
	ErrPersistenceUnavailable = NewDomainError("progress", "Persist", ErrServiceUnavailable, "progress store unavailable")
)

// Session domain errors
var (
	ErrInvalidTimeInput = NewDomainError("session", "ParseStart", ErrInvalidFormat, "invalid lesson date or time")
	ErrInvalidHourRange = NewDomainError("session", "Bucket", ErrValueOutOfRange, "invalid hour range")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
