package core

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned by a JobStore for an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal is returned when an update targets a completed, failed or cancelled job.
	ErrJobTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidPatch is returned when a patch would leave a job inconsistent.
	ErrInvalidPatch = errors.New("invalid job patch")
	// ErrDuplicateJob is returned when creating a job whose id already exists.
	ErrDuplicateJob = errors.New("job already exists")
)

// ValidationError reports malformed input at the API boundary.
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

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SynthesisError is returned by a SpeechSynthesizer.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RenderError is returned by a VideoRenderer.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("video rendering failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// UploadError is returned by a BlobStore.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsCapabilityError reports whether err came from an external capability.
func IsCapabilityError(err error) bool {
	var (
		synthesisErr *SynthesisError
		renderErr    *RenderError
		uploadErr    *UploadError
	)

	return errors.As(err, &synthesisErr) || errors.As(err, &renderErr) || errors.As(err, &uploadErr)
}
