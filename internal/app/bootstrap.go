package app

import (
	"strings"

	"jobsched/internal/config"
	logx "jobsched/pkg/logx"
)

const defaultSchedulerName = "main"

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Stderr: logx.SinkConfig{
			Enabled:    lc.StderrSink.Enabled,
			MinLevel:   lc.StderrSink.MinLevel,
			RatePerSec: lc.StderrSink.RatePerSec,
		},
	}
}

func schedulerName(cfg *config.Config) string {
	if n := strings.TrimSpace(cfg.Scheduler.Name); n != "" {
		return n
	}
	return defaultSchedulerName
}
