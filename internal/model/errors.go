package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no payment link exists for the given ID.
	ErrNotFound = errors.New("payment link not found")

	// ErrConflict is returned on insert when the link ID is already taken.
	// The orchestrator retries with a fresh ID; callers never see it.
	ErrConflict = errors.New("link id already exists")

	// ErrInvalidTransition is returned when a requested status change is not
	// legal from the link's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError signals rejected input. It is the caller's fault and is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// InvalidTransition builds an ErrInvalidTransition annotated with the
// attempted operation and the status that blocked it.
func InvalidTransition(op string, status Status) error {
	return errors.Wrapf(ErrInvalidTransition, "cannot %s %s link", op, status)
}
