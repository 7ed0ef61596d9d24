// Package task defines the unit of work accepted by the scheduler.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Task is a unit of work identified by ID and ordered by Priority.
//
// Lower Priority values run first. Tasks are passed by value and must be
// treated as immutable once submitted.
type Task struct {
	ID       string
	Priority int

	// Timeout bounds the ctx handed to Run. 0 uses the engine default.
	Timeout time.Duration

	// Run is the task body. A nil Run is allowed: executing it only reports the id.
	Run func(ctx context.Context) error
}

// Identifier is implemented by anything comparable by task id.
type Identifier interface {
	TaskID() string
}

func (t Task) TaskID() string { return t.ID }

// SameID reports whether t and other share an identity. Priority is ignored.
func (t Task) SameID(other Identifier) bool {
	if other == nil {
		return false
	}
	return t.ID == other.TaskID()
}

// Equal compares two identifiers by id only.
func Equal(a, b Identifier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.TaskID() == b.TaskID()
}

// Validate checks a task before it is accepted for scheduling.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTask)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%w: %s: timeout must be >= 0", ErrInvalidTask, t.ID)
	}
	return nil
}

// IDs maps tasks to their identifiers, preserving order.
func IDs(ts []Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
