package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps every rejected submission or lookup edit.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict is a name collision within a lookup's scope.
	ErrConflict = errors.New("conflict")
	// ErrConfigReplacement rejects a configuration batch before anything is applied.
	ErrConfigReplacement = errors.New("configuration replacement failed")
)

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErr(what string, id uint) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

func conflictErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ReplacementError lists every problem found in a configuration batch.
type ReplacementError struct {
	Problems []string
}

func (e *ReplacementError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%s (and %d more)", e.Problems[0], len(e.Problems)-1)
}

func (e *ReplacementError) Unwrap() error { return ErrConfigReplacement }
