package app

// StopReason says why the process is shutting down. It is logged only.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopRunFor     StopReason = "run_for"
	StopFatalError StopReason = "fatal_error"
)
