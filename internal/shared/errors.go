package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown roll, transaction, customer or pattern id.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates the current status does not permit the requested move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPermanentlyBlocked is reported for operations that are never allowed, such as hard deletes.
	ErrPermanentlyBlocked = errors.New("permanently blocked")
	// ErrConflict indicates the store could not apply a write against a stable snapshot.
	ErrConflict = errors.New("conflict with concurrent update")
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports a guard failure on a single roll.
type TransitionError struct {
	RollID string
	Op     string
	Status string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s roll %s in status %s", e.Op, e.RollID, e.Status)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
