package pipelinecore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the error kinds the core surfaces to its caller.
type ErrorKind string

const (
	ErrorKindInvalidRequest     ErrorKind = "invalid_request"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindConflict           ErrorKind = "conflict"
	ErrorKindSizeExceeded       ErrorKind = "size_exceeded"
	ErrorKindStorageError       ErrorKind = "storage_error"
	ErrorKindSerializationError ErrorKind = "serialization_error"
	ErrorKindStageError         ErrorKind = "stage_error"
	ErrorKindInvalidTransition  ErrorKind = "invalid_transition"
)

// WorkflowError is a structured error carrying one of the named ErrorKinds.
// It supports Go's error wrapping patterns via Unwrap.
type WorkflowError struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewWorkflowError creates a WorkflowError of the given kind.
func NewWorkflowError(kind ErrorKind, message string) *WorkflowError {
	return &WorkflowError{Kind: kind, Message: message}
}

// WrapWorkflowError wraps an existing error with a classification.
func WrapWorkflowError(kind ErrorKind, err error) *WorkflowError {
	if err == nil {
		return nil
	}
	return &WorkflowError{Kind: kind, Message: err.Error(), Wrapped: err}
}

// IsKind reports whether err is a WorkflowError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr.Kind == kind
	}
	return false
}

// WorkflowPaused is a control-flow signal, not a failure: the executor
// raises it when a pause request takes effect at a stage boundary. It must
// never be conflated with a Failed transition.
type WorkflowPaused struct {
	WorkflowID   string
	CheckpointID string
	Reason       string
}

func (e *WorkflowPaused) Error() string {
	return fmt.Sprintf("workflow %s paused at checkpoint %s: %s", e.WorkflowID, e.CheckpointID, e.Reason)
}

// IsWorkflowPaused reports whether err is a WorkflowPaused signal.
func IsWorkflowPaused(err error) (*WorkflowPaused, bool) {
	var paused *WorkflowPaused
	if errors.As(err, &paused) {
		return paused, true
	}
	return nil, false
}

// ErrCancelled is returned by the executor when a cancel request takes effect.
var ErrCancelled = errors.New("workflow cancelled")

// classifyStageError turns a raw stage error into a WorkflowError of kind
// StageError unless it is already a WorkflowError, mirroring the teacher's
// ClassifyError but collapsed onto the spec's smaller kind set: anything a
// stage throws is a StageError until retry middleware exhausts its budget.
func classifyStageError(err error) *WorkflowError {
	if err == nil {
		return nil
	}
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr
	}
	return WrapWorkflowError(ErrorKindStageError, err)
}
