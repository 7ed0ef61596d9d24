package task

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTask = errors.New("invalid task")
	ErrStopped     = errors.New("scheduler stopped")
)

// ExecutionError wraps a failure raised by a task body.
//
// It is reported to observers (logs, event bus, history) and never returned to
// the caller that scheduled the task.
type ExecutionError struct {
	ID    string
	Err   error
	Panic any
	Stack string
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", e.ID, e.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", e.ID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsPanic reports whether the body panicked rather than returning an error.
func (e *ExecutionError) IsPanic() bool { return e != nil && e.Panic != nil }
