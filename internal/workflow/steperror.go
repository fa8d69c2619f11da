package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a step failure. The values double as the `reason`
// field on error events, so they are stable wire strings.
type ErrorKind string

const (
	AIGenerationFailed      ErrorKind = "ai_generation_failed"
	AIEmptyResult           ErrorKind = "ai_empty_result"
	ContentValidationFailed ErrorKind = "content_validation_failed"
	StorageReadFailed       ErrorKind = "storage_read_failed"
	StorageWriteFailed      ErrorKind = "storage_write_failed"
	NotFound                ErrorKind = "not_found"
	NoSourceData            ErrorKind = "no_source_data"
)

type StepError struct {
	Kind  ErrorKind
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *StepError) Unwrap() error { return e.Cause }

func NewStepError(kind ErrorKind, cause error) *StepError {
	return &StepError{Kind: kind, Cause: cause}
}

// Reason extracts the taxonomy value from err for event reporting.
// Untyped failures report "internal".
func Reason(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "internal"
}
