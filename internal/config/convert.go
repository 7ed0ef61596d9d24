package config

import (
	"strings"

	logx "prisched/pkg/logx"
)

// LogxConfig maps the logging section onto the logger's own config.
func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:       strings.TrimSpace(c.Level),
		Console:     c.Console,
		File:        logx.FileConfig{Enabled: c.File.Enabled, Path: strings.TrimSpace(c.File.Path)},
		DebugPerSec: c.DebugPerSec,
	}
}

// ReportEnabled reports whether an execution report sink is configured.
func (c *Config) ReportEnabled() bool {
	if c == nil || c.Report == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.Report.Driver)) {
	case "", "none", "off", "disabled":
		return false
	default:
		return true
	}
}
