package stages

import (
	"errors"
	"fmt"
)

// Stage names shared by every component of the pipeline.
const (
	UploadParse   = "upload_parse"
	PDFToImage    = "pdf_to_image"
	Preprocess    = "preprocess"
	AzureReadCall = "azure_read_call"
	FallbackCall  = "fallback_call"
	Unexpected    = "unexpected"
)

// ErrTerminal is returned when a stage that already finished is moved back to running.
var ErrTerminal = errors.New("stage already reached a terminal status")

// StageError is a failure tagged with the stage that produced it.
// It is the only error type the pipeline components hand to each other.
type StageError struct {
	Stage   string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewError creates a StageError with no underlying cause.
func NewError(stage, message string) *StageError {
	return &StageError{Stage: stage, Message: message}
}

// Errorf formats a StageError message. A %w verb keeps the wrapped cause
// reachable through errors.Is / errors.As.
func Errorf(stage, format string, args ...any) *StageError {
	wrapped := fmt.Errorf(format, args...)
	return &StageError{
		Stage:   stage,
		Message: wrapped.Error(),
		Err:     errors.Unwrap(wrapped),
	}
}

// AsStageError extracts a StageError from err, if one is in the chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Classify returns err as a StageError, tagging anything unrecognized with fallbackStage.
func Classify(err error, fallbackStage string) *StageError {
	if se, ok := AsStageError(err); ok {
		return se
	}
	return &StageError{Stage: fallbackStage, Message: err.Error(), Err: err}
}
