package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Report is the optional execution report sink. Nil means disabled.
	Report *ReportConfig `json:"report,omitempty"`

	Tasks     []TaskConfig      `json:"tasks,omitempty"`
	Recurring []RecurringConfig `json:"recurring,omitempty"`

	// RunFor is a Go duration string. After it elapses the scheduler is stopped.
	// Empty or "0s" waits for a signal instead.
	RunFor string `json:"run_for,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// DebugPerSec caps debug/trace lines per second. 0 disables sampling.
	DebugPerSec int `json:"debug_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler and its worker pool.
//
// Workers is read once at startup; changing it requires a restart.
type SchedulerConfig struct {
	// Workers defaults to the number of CPUs when 0.
	Workers int `json:"workers,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`

	// Timezone for recurring cron triggers.
	Timezone string `json:"timezone,omitempty"`
}

// ReportConfig controls where execution records are written.
//
// Example:
//
//	"report": { "driver": "file", "path": "./prisched_report" }
type ReportConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Buffer is the event subscription buffer. Defaults to 256.
	Buffer int `json:"buffer,omitempty"`
}

// TaskConfig is a one-shot submission made at startup.
type TaskConfig struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Delay    string `json:"delay,omitempty"`
	Timeout  string `json:"timeout,omitempty"`

	// Work is how long the body runs (Go duration string). Empty returns at once.
	Work string `json:"work,omitempty"`
	// Fail makes the body return an error with this message.
	Fail string `json:"fail,omitempty"`
}

// RecurringConfig submits a fresh task every time Schedule triggers.
// Schedule accepts cron ("*/5 * * * *"), HH:MM ("00:30") or a duration ("45s").
type RecurringConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Priority int    `json:"priority"`
	Work     string `json:"work,omitempty"`
	Fail     string `json:"fail,omitempty"`
}
