// Package errors provides the user-facing error type of the join engine.
// JoinError carries the failing operation, the column involved and, for
// failures inside a worker, the worker's rank.
package errors

import (
	"fmt"
)

// NoRank marks a JoinError that is not tied to a worker.
const NoRank = -1

// JoinError represents errors reported by public join operations.
type JoinError struct {
	Op      string // Operation name (e.g., "Join", "Split", "Compile")
	Column  string // Column name if applicable
	Rank    int    // Worker rank, or NoRank
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface
func (e *JoinError) Error() string {
	var where string
	if e.Rank != NoRank {
		where = fmt.Sprintf(" on worker %d", e.Rank)
	}
	if e.Column != "" {
		return fmt.Sprintf("%s operation failed%s on column '%s': %s", e.Op, where, e.Column, e.Message)
	}
	return fmt.Sprintf("%s operation failed%s: %s", e.Op, where, e.Message)
}

// Unwrap returns the underlying cause for error wrapping support
func (e *JoinError) Unwrap() error {
	return e.Cause
}

// Is implements error equality checking for errors.Is()
func (e *JoinError) Is(target error) bool {
	if je, ok := target.(*JoinError); ok {
		return e.Op == je.Op && e.Column == je.Column && e.Message == je.Message
	}
	return false
}

// NewColumnNotFoundError creates an error for operations on non-existent columns
func NewColumnNotFoundError(op, column string) *JoinError {
	return &JoinError{
		Op:      op,
		Column:  column,
		Rank:    NoRank,
		Message: "column does not exist",
	}
}

// NewInvalidInputError creates an error for invalid operation inputs
func NewInvalidInputError(op, message string) *JoinError {
	return &JoinError{
		Op:      op,
		Rank:    NoRank,
		Message: message,
	}
}

// NewUnsupportedTypeError creates an error for unsupported key or column types
func NewUnsupportedTypeError(op, column, typeName string) *JoinError {
	return &JoinError{
		Op:      op,
		Column:  column,
		Rank:    NoRank,
		Message: fmt.Sprintf("unsupported type: %s", typeName),
	}
}

// NewValidationError creates an error for input validation failures
func NewValidationError(op, column, message string) *JoinError {
	return &JoinError{
		Op:      op,
		Column:  column,
		Rank:    NoRank,
		Message: message,
	}
}

// NewWorkerError wraps a failure raised inside worker rank.
func NewWorkerError(op string, rank int, cause error) *JoinError {
	return &JoinError{
		Op:      op,
		Rank:    rank,
		Message: "worker failed",
		Cause:   cause,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *JoinError {
	return &JoinError{
		Op:      op,
		Rank:    NoRank,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// Predefined error variables for common cases
var (
	// ErrMismatchedLength indicates columns of one table with different lengths
	ErrMismatchedLength = &JoinError{
		Op:      "validation",
		Rank:    NoRank,
		Message: "columns must have the same length",
	}

	// ErrNoWorkers indicates a cluster configured with fewer than one worker
	ErrNoWorkers = &JoinError{
		Op:      "validation",
		Rank:    NoRank,
		Message: "at least one worker is required",
	}
)
