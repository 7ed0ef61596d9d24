package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks values that the strict decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Scheduler.Workers < 0 {
		add(fmt.Errorf("scheduler.workers: must be >= 0"))
	}
	if c.Scheduler.HistorySize < 0 {
		add(fmt.Errorf("scheduler.history_size: must be >= 0"))
	}
	_, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout)
	add(err)
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err = ParseDurationField("run_for", c.RunFor)
	add(err)

	if r := c.Report; r != nil {
		switch strings.ToLower(strings.TrimSpace(r.Driver)) {
		case "", "none", "off", "disabled", "file", "sqlite":
		default:
			add(fmt.Errorf("report.driver: unknown driver %q", r.Driver))
		}
		_, err := ParseDurationField("report.busy_timeout", r.BusyTimeout)
		add(err)
	}

	seen := map[string]int{}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		id := strings.TrimSpace(t.ID)
		if id == "" {
			add(fmt.Errorf("%s.id: required", path))
		} else if j, dup := seen[id]; dup {
			add(fmt.Errorf("%s.id: %q duplicates tasks[%d]", path, id, j))
		} else {
			seen[id] = i
		}
		for _, f := range [...]struct{ name, raw string }{{"delay", t.Delay}, {"timeout", t.Timeout}, {"work", t.Work}} {
			_, err := ParseDurationField(path+"."+f.name, f.raw)
			add(err)
		}
	}

	names := map[string]int{}
	for i, r := range c.Recurring {
		path := fmt.Sprintf("recurring[%d]", i)
		name := strings.TrimSpace(r.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if j, dup := names[name]; dup {
			add(fmt.Errorf("%s.name: %q duplicates recurring[%d]", path, name, j))
		} else {
			names[name] = i
		}
		if strings.TrimSpace(r.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", path))
		}
		_, err := ParseDurationField(path+".work", r.Work)
		add(err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
