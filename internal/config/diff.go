package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobsched/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// Jobs lists job and batch names that were added, removed or modified.
	Jobs []string
	// Attrs are safe structured fields for logging.
	Attrs []logx.Field
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs. A nil config is treated as empty.
func Diff(oldCfg, newCfg *Config) Change {
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
			logx.Bool("logging.stderr_sink", newCfg.Logging.StderrSink.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Attrs = append(ch.Attrs,
			logx.String("scheduler.name", newCfg.Scheduler.Name),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		driver := "none"
		if newCfg.Storage != nil && strings.TrimSpace(newCfg.Storage.Driver) != "" {
			driver = newCfg.Storage.Driver
		}
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", driver))
	}
	if oldCfg.Admin != newCfg.Admin {
		ch.Sections = append(ch.Sections, "admin")
		ch.Attrs = append(ch.Attrs, logx.Bool("admin.enabled", newCfg.Admin.Enabled), logx.String("admin.address", newCfg.Admin.Address))
	}
	if oldCfg.Systemd != newCfg.Systemd {
		ch.Sections = append(ch.Sections, "systemd")
	}

	ch.Jobs = changedJobs(oldCfg, newCfg)
	if len(ch.Jobs) > 0 {
		ch.Sections = append(ch.Sections, "jobs")
		ch.Attrs = append(ch.Attrs, logx.Strings("jobs.changed", ch.Jobs))
	}
	return ch
}

func changedJobs(oldCfg, newCfg *Config) []string {
	index := func(c *Config) map[string]any {
		m := make(map[string]any, len(c.Jobs)+len(c.Batches))
		for _, j := range c.Jobs {
			m[strings.TrimSpace(j.Name)] = j
		}
		for _, b := range c.Batches {
			m[strings.TrimSpace(b.Name)] = b
		}
		return m
	}
	o, n := index(oldCfg), index(newCfg)
	var out []string
	for name, ov := range o {
		if nv, ok := n[name]; !ok || !reflect.DeepEqual(ov, nv) {
			out = append(out, name)
		}
	}
	for name := range n {
		if _, ok := o[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
