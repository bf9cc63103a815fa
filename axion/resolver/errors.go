package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchLengthMismatch means a compute function returned a different
	// number of results than it was given requests. This is a contract
	// violation by the collaborator and nothing is cached.
	ErrBatchLengthMismatch = errors.New("batch length mismatch")

	// ErrInvalidInput is the sentinel behind every ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// LengthMismatchError carries the expected and returned result counts.
type LengthMismatchError struct {
	Want int
	Got  int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("%v: sent %d requests, got %d results", ErrBatchLengthMismatch, e.Want, e.Got)
}

func (e *LengthMismatchError) Unwrap() error {
	return ErrBatchLengthMismatch
}

// ComputeError wraps a failure of the underlying compute call. The original
// error is available through errors.Is / errors.As.
type ComputeError struct {
	Name  string
	Batch int
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s: compute failed for %d items: %v", e.Name, e.Batch, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// ValidationError rejects malformed input before any cache or compute work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
