package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the root of every rejected input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an experiment, variant or assignment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest marks a malformed decision request (for example an empty visitor id).
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrValidation)

	// ErrInvalidTransition is returned when the state machine rejects a status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoVariantsConfigured is returned when bucketing finds no variants.
	ErrNoVariantsConfigured = errors.New("no variants configured")

	// ErrAssignmentExists is returned by assignment stores when the
	// (experiment_id, visitor_id) key is already taken.
	ErrAssignmentExists = errors.New("assignment already exists")

	// ErrAlreadyExists is returned when a unique key (experiment key, variant key) is reused.
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrValidation)
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
