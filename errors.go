package conductor

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conductor: no store configured")
	ErrStoreClosed = errors.New("conductor: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("conductor: job not found")
	ErrDeliveryNotFound = errors.New("conductor: delivery not found")

	// Conflict errors.
	ErrJobAlreadyExists      = errors.New("conductor: job already exists")
	ErrDeliveryAlreadyExists = errors.New("conductor: delivery already exists")
	ErrConflict              = errors.New("conductor: status conflict")

	// Submission errors.
	ErrValidation      = errors.New("conductor: validation failed")
	ErrAdmissionDenied = errors.New("conductor: admission denied")
	ErrShuttingDown    = errors.New("conductor: shutting down")

	// Queue errors.
	ErrQueueClosed = errors.New("conductor: queue closed")

	// Execution errors.
	ErrNoHandler = errors.New("conductor: no handler registered")
	ErrTimeout   = errors.New("conductor: execution timed out")
)

// ValidationError describes a malformed submission. It matches ErrValidation
// with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "conductor: invalid: " + e.Reason
	}
	return fmt.Sprintf("conductor: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a ValidationError for the given field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError is returned by compare-and-swap updates when the current
// status differs from the expected one. It matches ErrConflict with errors.Is.
type ConflictError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conductor: status conflict on %s: expected %s, found %s", e.ID, e.Expected, e.Actual)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
