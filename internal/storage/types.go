package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

const defaultMaxRecords = 10000

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRecords bounds how many records are kept. 0 means 10000.
	MaxRecords int
}

// Outcome values of an ExecutionRecord.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// ExecutionRecord is one finished run of a task body.
type ExecutionRecord struct {
	RunID    string        `json:"run_id"`
	TaskID   string        `json:"task_id"`
	Priority int           `json:"priority"`
	Worker   int           `json:"worker"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"`
	Error    string        `json:"error,omitempty"`
}
