package models

import (
	"errors"
	"fmt"
)

var (
	ErrLoadFailure      = errors.New("image load failure")
	ErrModelLoadFailure = errors.New("model load failure")
	ErrInferenceFailure = errors.New("inference failure")
)

// ProcessingError carries one of the failure kinds above plus the underlying cause.
type ProcessingError struct {
	Kind    error
	Message string
	Cause   error
}

func NewProcessingError(kind error, message string, cause error) *ProcessingError {
	return &ProcessingError{Kind: kind, Message: message, Cause: cause}
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProcessingError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}
