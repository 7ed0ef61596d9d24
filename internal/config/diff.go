package config

import (
	"reflect"
	"sort"
	"strings"

	logx "prisched/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are structured fields safe to log.
	Attrs []logx.Field
	// RestartRequired lists settings that only take effect on restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs. Logging is the only section a
// running process applies; everything else is reported as restart required.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Int("logging.debug_per_sec", newCfg.Logging.DebugPerSec),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if o.Workers != n.Workers ||
		strings.TrimSpace(o.DefaultTimeout) != strings.TrimSpace(n.DefaultTimeout) ||
		o.HistorySize != n.HistorySize ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Attrs = append(ch.Attrs,
			logx.Int("scheduler.workers", n.Workers),
			logx.String("scheduler.default_timeout", strings.TrimSpace(n.DefaultTimeout)),
			logx.Int("scheduler.history_size", n.HistorySize),
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
		)
		if o.Workers != n.Workers {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.workers")
		}
		if strings.TrimSpace(o.DefaultTimeout) != strings.TrimSpace(n.DefaultTimeout) {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.default_timeout")
		}
		if o.HistorySize != n.HistorySize {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.history_size")
		}
		if strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) {
			ch.RestartRequired = append(ch.RestartRequired, "scheduler.timezone")
		}
	}

	// Report: nil means disabled. The path itself is never logged.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.Report != nil {
		oDriver = strings.TrimSpace(oldCfg.Report.Driver)
		oPathSet = strings.TrimSpace(oldCfg.Report.Path) != ""
	}
	if newCfg.Report != nil {
		nDriver = strings.TrimSpace(newCfg.Report.Driver)
		nPathSet = strings.TrimSpace(newCfg.Report.Path) != ""
	}
	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		ch.Sections = append(ch.Sections, "report")
		ch.Attrs = append(ch.Attrs,
			logx.String("report.driver", nDriver),
			logx.Bool("report.path_set", nPathSet),
			logx.Bool("report.driver_changed", oDriver != nDriver || oPathSet != nPathSet),
		)
		ch.RestartRequired = append(ch.RestartRequired, "report")
	}

	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		ch.Sections = append(ch.Sections, "tasks")
		ch.Attrs = append(ch.Attrs, logx.Int("tasks.count", len(newCfg.Tasks)))
		ch.RestartRequired = append(ch.RestartRequired, "tasks")
	}
	if !reflect.DeepEqual(oldCfg.Recurring, newCfg.Recurring) {
		ch.Sections = append(ch.Sections, "recurring")
		ch.Attrs = append(ch.Attrs, logx.Int("recurring.count", len(newCfg.Recurring)))
		ch.RestartRequired = append(ch.RestartRequired, "recurring")
	}
	if strings.TrimSpace(oldCfg.RunFor) != strings.TrimSpace(newCfg.RunFor) {
		ch.Sections = append(ch.Sections, "run_for")
		ch.Attrs = append(ch.Attrs, logx.String("run_for", strings.TrimSpace(newCfg.RunFor)))
		ch.RestartRequired = append(ch.RestartRequired, "run_for")
	}

	sort.Strings(ch.Sections)
	return ch
}
