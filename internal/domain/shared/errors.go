// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
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
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// Error taxonomy of the learning core.
var (
	// ErrGenerationFailure covers generator errors, timeouts and malformed output.
	// It is absorbed by fallback content and never reaches the learner.
	ErrGenerationFailure = errors.New("content generation failed")

	// ErrSequenceViolation is an out-of-order section completion or an illegal
	// progress transition. Surfaced to the caller, never retried.
	ErrSequenceViolation = fmt.Errorf("sequence violation: %w", ErrStateTransition)

	// ErrDuplicateReward marks a reward whose triggering transition was a no-op.
	// Callers see it as a successful no-op, not as an error.
	ErrDuplicateReward = errors.New("duplicate reward attempt")

	// ErrPersistenceFailure means a store was unreachable or rejected a write.
	// The whole operation must be reported as failed.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "ledger", "topic"
	Op      string // Operation that failed, e.g., "CompleteSection"
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

// Is implements errors.Is() matching on both the kind and the cause.
func (e *DomainError) Is(target error) bool {
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

// Persistence wraps a store error as a PersistenceFailure. Nil stays nil.
func Persistence(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(domain, op, ErrPersistenceFailure, "store operation failed", err)
}

// Topic domain errors
var (
	ErrTopicNotFound        = NewDomainError("topic", "Find", ErrNotFound, "topic not found")
	ErrSectionNotFound      = NewDomainError("topic", "Outline", ErrNotFound, "section index out of range")
	ErrContentNotFound      = NewDomainError("topic", "GetContent", ErrNotFound, "section content not generated yet")
	ErrInvalidTopicStatus   = NewDomainError("topic", "UpdateStatus", ErrStateTransition, "topic status can only move forward")
	ErrEmptyOutline         = NewDomainError("topic", "Create", ErrEmptyValue, "topic must have at least one section")
	ErrInvalidAge           = NewDomainError("topic", "Validate", ErrValueOutOfRange, "target age out of range")
	ErrMalformedGeneration  = NewDomainError("topic", "Generate", ErrGenerationFailure, "generator returned malformed content")
	ErrGeneratorUnavailable = NewDomainError("topic", "Generate", ErrGenerationFailure, "content generator unavailable")
)

// Progress domain errors
var (
	ErrSectionOutOfOrder   = NewDomainError("progress", "CompleteSection", ErrSequenceViolation, "previous section is not completed")
	ErrSectionOutOfRange   = NewDomainError("progress", "CompleteSection", ErrSequenceViolation, "section index out of range")
	ErrQuizNotReady        = NewDomainError("progress", "CompleteQuiz", ErrSequenceViolation, "quiz is not available yet")
	ErrCertificateNotReady = NewDomainError("progress", "IssueCertificate", ErrSequenceViolation, "certificate requires a completed quiz")
	ErrProgressTerminal    = NewDomainError("progress", "Transition", ErrSequenceViolation, "certificate already issued")
	ErrProgressNotFound    = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
)

// Ledger domain errors
var (
	ErrZeroAmount   = NewDomainError("ledger", "Append", ErrInvalidInput, "amount must be nonzero")
	ErrEmptyReason  = NewDomainError("ledger", "Append", ErrEmptyValue, "reason must not be empty")
	ErrEmptyChildID = NewDomainError("ledger", "Append", ErrInvalidID, "child ID must not be empty")
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
		errors.Is(err, ErrValueOutOfRange)
}

// IsSequenceViolation checks for an illegal progress transition.
func IsSequenceViolation(err error) bool {
	return errors.Is(err, ErrSequenceViolation)
}

// IsGenerationFailure checks for a generator-side failure.
func IsGenerationFailure(err error) bool {
	return errors.Is(err, ErrGenerationFailure)
}

// IsPersistenceFailure checks for a store failure.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
