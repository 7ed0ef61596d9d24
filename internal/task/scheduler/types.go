package scheduler

import (
	"context"
	"time"

	"prisched/internal/eventbus"
	"prisched/internal/task"
	"prisched/internal/task/delay"
	"prisched/internal/task/engine"
	logx "prisched/pkg/logx"
)

// Config controls a scheduler instance. Workers is fixed at construction.
type Config struct {
	// Workers defaults to runtime.NumCPU().
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int

	// Timezone for recurring cron triggers (IANA name, e.g. "Europe/Berlin").
	Timezone string
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		Workers:        c.Workers,
		DefaultTimeout: c.DefaultTimeout,
		HistorySize:    c.HistorySize,
	}
}

type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event types published by the scheduler itself. Execution events come from engine.
const (
	EventScheduled = "task.scheduled"
	EventQueued    = "task.queued"
	EventStopped   = "scheduler.stopped"
)

// SubmissionEvent is published when a task is scheduled and when its delay elapses.
type SubmissionEvent struct {
	ID       string        `json:"id"`
	Priority int           `json:"priority"`
	Delay    time.Duration `json:"delay"`
	Deadline time.Time     `json:"deadline"`
}

// StoppedEvent lists the ids returned by Stop.
type StoppedEvent struct {
	Unexecuted []string `json:"unexecuted"`
}

type Option func(*options)

type options struct {
	log logx.Logger
	bus eventbus.Bus
	ctx context.Context
}

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithContext sets the parent of the contexts handed to task bodies.
// Cancelling it cancels running bodies; Stop never does.
func WithContext(ctx context.Context) Option { return func(o *options) { o.ctx = ctx } }

// submission is a task waiting for its delay to elapse.
type submission struct {
	seq   uint64
	task  task.Task
	timer *delay.Timer
}

type RecurringInfo struct {
	Name     string
	Spec     string
	Priority int
	Next     time.Time
	Prev     time.Time
}

type Snapshot struct {
	State    State
	Timezone string

	// Delayed counts submissions whose delay has not elapsed.
	Delayed int
	// Queued counts tasks in the pending store.
	Queued int

	Engine    engine.Snapshot
	Recurring []RecurringInfo
}
