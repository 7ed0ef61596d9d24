package engine

import (
	"context"
	"time"

	"prisched/internal/runtime/supervisor"
	"prisched/internal/task"
)

// Config controls the dispatcher. Workers is fixed for the life of a Service.
//
// Defaults (when fields are zero):
//   - workers: runtime.NumCPU()
//   - default_timeout: 0 (disabled)
//   - history_size: 200
type Config struct {
	Workers int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	HistorySize int
}

// Source is the part of the pending store the workers consume.
type Source interface {
	PopMin() (task.Task, bool)
	IsEmpty() bool
	Ready() <-chan struct{}
	Signal()
}

// Lifecycle event types published on the bus.
const (
	EventStarted  = "task.started"
	EventFinished = "task.finished"
	EventFailed   = "task.failed"
)

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	RunID    string        `json:"run_id"`
	ID       string        `json:"id"`
	Priority int           `json:"priority"`
	Worker   int           `json:"worker"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

type HistoryItem struct {
	RunID    string
	ID       string
	Priority int
	Worker   int
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers int
	Running bool

	InFlight     int
	PeakInFlight int

	Executed    uint64
	Failed      uint64
	IdleWakeups uint64

	DefaultTimeout time.Duration
	Supervisor     supervisor.Counters

	History []HistoryItem
}

// runFunc adapts a task body so a nil Run is a valid no-op.
func runFunc(t task.Task) func(ctx context.Context) error {
	if t.Run == nil {
		return func(context.Context) error { return nil }
	}
	return t.Run
}
