package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a node or edge does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.ID
}

// ErrAlreadyExists is returned when creating an entity whose ID is taken.
type ErrAlreadyExists struct {
	Entity string
	ID     string
}

func (e *ErrAlreadyExists) Error() string {
	return e.Entity + " already exists: " + e.ID
}

// ErrConstraint reports a violated storage invariant.
type ErrConstraint struct {
	Reason string
}

func (e *ErrConstraint) Error() string {
	return "constraint violation: " + e.Reason
}

// ErrBackend wraps a driver or serialization failure.
type ErrBackend struct {
	Op  string
	Err error
}

func (e *ErrBackend) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *ErrBackend) Unwrap() error { return e.Err }

// IsNotFound returns true if err is or wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

// IsAlreadyExists returns true if err is or wraps an ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	var target *ErrAlreadyExists
	return errors.As(err, &target)
}

// IsConstraint returns true if err is or wraps an ErrConstraint.
func IsConstraint(err error) bool {
	var target *ErrConstraint
	return errors.As(err, &target)
}

// IsBackend returns true if err is or wraps an ErrBackend.
func IsBackend(err error) bool {
	var target *ErrBackend
	return errors.As(err, &target)
}

// Outcome is a coarse classification of an operation result.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeConstraint    Outcome = "constraint"
	OutcomeBackend       Outcome = "backend"
)

// OutcomeOf classifies err. Errors outside the taxonomy count as backend
// errors.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsNotFound(err):
		return OutcomeNotFound
	case IsAlreadyExists(err):
		return OutcomeAlreadyExists
	case IsConstraint(err):
		return OutcomeConstraint
	default:
		return OutcomeBackend
	}
}

func nodeNotFound(id fmt.Stringer) error {
	return &ErrNotFound{Entity: "node", ID: id.String()}
}

func edgeNotFound(id fmt.Stringer) error {
	return &ErrNotFound{Entity: "edge", ID: id.String()}
}
