package domain

import "fmt"

// ErrorKind is the machine-readable classification of a job failure.
type ErrorKind string

const (
	ErrKindToolNotFound      ErrorKind = "tool_not_found"
	ErrKindInvalidInput      ErrorKind = "invalid_input"
	ErrKindSpawn             ErrorKind = "spawn_error"
	ErrKindProcessFailure    ErrorKind = "process_failure"
	ErrKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrKindCorruptInput      ErrorKind = "corrupt_input"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindCancelled         ErrorKind = "cancelled"
	ErrKindOutputIntegrity   ErrorKind = "output_integrity"
)

// JobError is a classified job failure carrying a bounded stderr excerpt.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Stderr  string    `json:"stderr,omitempty"`
	Err     error     `json:"-"`
}

// Error formats the failure for logs and UI.
func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewJobError builds a classified error without command context.
func NewJobError(kind ErrorKind, message string) *JobError {
	return &JobError{Kind: kind, Message: message}
}
