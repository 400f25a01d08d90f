package switchpoint

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the switchpoint package.
var (
	// ErrInvalidInput is returned for samples, series, rates, or split
	// indices that violate a contract precondition.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNumericalInstability is returned when normalization cannot produce
	// a finite probability distribution even after log-sum-exp shifting.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrNotFound is returned when a requested analysis does not exist.
	ErrNotFound = errors.New("analysis not found")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// event store.
	ErrStoreClosed = errors.New("event store is closed")
)

// AnalysisErrorType categorizes analysis errors.
type AnalysisErrorType int

const (
	// AnalysisErrorTypeUnknown is an unclassified error.
	AnalysisErrorTypeUnknown AnalysisErrorType = iota
	// AnalysisErrorTypeInput indicates a violated input precondition.
	AnalysisErrorTypeInput
	// AnalysisErrorTypeInstability indicates a non-finite intermediate that
	// shifting could not rescue.
	AnalysisErrorTypeInstability
)

// AnalysisError provides detailed information about estimation and search
// failures.
type AnalysisError struct {
	Type    AnalysisErrorType
	Op      string
	Message string
	Cause   error
}

func (e *AnalysisError) Error() string {
	if e.Op != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for AnalysisError.
func (e *AnalysisError) Is(target error) bool {
	switch e.Type {
	case AnalysisErrorTypeInput:
		return target == ErrInvalidInput
	case AnalysisErrorTypeInstability:
		return target == ErrNumericalInstability
	}
	return false
}

// newInputError creates an AnalysisError for a violated precondition.
func newInputError(op, message string) *AnalysisError {
	return &AnalysisError{
		Type:    AnalysisErrorTypeInput,
		Op:      op,
		Message: message,
	}
}

// newInstabilityError creates an AnalysisError for a numerical failure.
func newInstabilityError(op, message string) *AnalysisError {
	return &AnalysisError{
		Type:    AnalysisErrorTypeInstability,
		Op:      op,
		Message: message,
	}
}
