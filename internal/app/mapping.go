package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prisched/internal/config"
	"prisched/internal/storage"
	"prisched/internal/task"
	"prisched/internal/task/scheduler"
)

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	timeout, err := config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:        sc.Workers,
		DefaultTimeout: timeout,
		HistorySize:    sc.HistorySize,
		Timezone:       strings.TrimSpace(sc.Timezone),
	}, nil
}

// mapStorageConfig reports enabled=false when no report sink is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if !cfg.ReportEnabled() {
		return storage.Config{}, false, nil
	}
	rc := cfg.Report
	driver := strings.ToLower(strings.TrimSpace(rc.Driver))
	path := strings.TrimSpace(rc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("report.path is required when report.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("report.busy_timeout", rc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown report.driver: %s", rc.Driver)
	}
}

type pendingTask struct {
	task  task.Task
	delay time.Duration
}

func mapTasks(cfg *config.Config) ([]pendingTask, error) {
	out := make([]pendingTask, 0, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		d, err := config.ParseDurationField(path+".delay", tc.Delay)
		if err != nil {
			return nil, err
		}
		timeout, err := config.ParseDurationField(path+".timeout", tc.Timeout)
		if err != nil {
			return nil, err
		}
		run, err := body(path, tc.Work, tc.Fail)
		if err != nil {
			return nil, err
		}
		out = append(out, pendingTask{
			task:  task.Task{ID: strings.TrimSpace(tc.ID), Priority: tc.Priority, Timeout: timeout, Run: run},
			delay: d,
		})
	}
	return out, nil
}

// body builds the task function for a configured task: it works for the
// given duration, then fails with msg if one is set.
func body(path, work, msg string) (func(context.Context) error, error) {
	d, err := config.ParseDurationField(path+".work", work)
	if err != nil {
		return nil, err
	}
	msg = strings.TrimSpace(msg)
	return func(ctx context.Context) error {
		if d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if msg != "" {
			return errors.New(msg)
		}
		return nil
	}, nil
}
