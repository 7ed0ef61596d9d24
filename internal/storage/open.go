package storage

import (
	"context"
	"fmt"
	"strings"

	logx "prisched/pkg/logx"
)

// Store is the persistence API used by the report sink.
type Store interface {
	AppendExecution(ctx context.Context, r ExecutionRecord) error
	// RecentExecutions returns up to limit records, oldest first.
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "off", "disabled":
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = defaultMaxRecords
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
