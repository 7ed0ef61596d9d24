package engine

import "errors"

var (
	ErrNotStarted = errors.New("task engine not started")
	ErrNoSource   = errors.New("task engine has no source")
)
