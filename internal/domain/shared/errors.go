// Package shared holds the identifiers, points value, session, events and
// error kinds every domain package builds on. It imports only the standard
// library.
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
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Invariant errors
	ErrNegativeValue = errors.New("points cannot be negative")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Absence errors
	ErrNothingToEdit = errors.New("nothing to edit")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "ledger", "question", "course"
	Op      string // Operation that failed, e.g., "Reconcile", "Validate"
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

// Is matches both the kind and the wrapped cause, so a wrapped
// store failure still reports its own sentinel.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
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

// Session errors
var (
	ErrNoSession   = NewDomainError("session", "Resolve", ErrUnauthorized, "no authenticated user")
	ErrTeacherOnly = NewDomainError("session", "Authorize", ErrForbidden, "operation requires a teacher")
	ErrNotYourData = NewDomainError("session", "Authorize", ErrForbidden, "students may only act on their own data")
)

// Error classes. The HTTP layer maps each class to one status code.
var (
	validationKinds  = []error{ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrValueOutOfRange}
	stateKinds       = []error{ErrInvalidState, ErrAlreadyProcessed}
	concurrencyKinds = []error{ErrOptimisticLock, ErrConcurrentModification}
)

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports malformed input.
func IsValidation(err error) bool { return isAny(err, validationKinds) }

// IsStateConflict reports an operation the current state does not allow,
// such as validating a question twice.
func IsStateConflict(err error) bool { return isAny(err, stateKinds) }

// IsInvariantViolation reports a rejected mutation that would have broken a
// ledger invariant.
func IsInvariantViolation(err error) bool { return errors.Is(err, ErrNegativeValue) }

// IsConcurrencyConflict reports a lost race with another writer. The caller
// may reload and retry.
func IsConcurrencyConflict(err error) bool { return isAny(err, concurrencyKinds) }
