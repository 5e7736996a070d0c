package config

// Config is the daemon configuration. JSON and YAML files decode to the same
// structure; unknown fields are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Admin     AdminConfig     `json:"admin"`
	Systemd   SystemdConfig   `json:"systemd"`
	Jobs      []JobConfig     `json:"jobs"`
	Batches   []BatchConfig   `json:"batches,omitempty"`
}

type LoggingConfig struct {
	Level      string      `json:"level"`
	Console    bool        `json:"console"`
	File       LoggingFile `json:"file"`
	StderrSink LoggingSink `json:"stderr_sink"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSink mirrors warnings and errors to stderr, rate limited, for
// operators running the daemon under a service manager.
type LoggingSink struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig configures the single scheduler of the daemon.
//
// Timezone is an IANA name (e.g. "America/Chicago"); it drives calendar
// intervals, offsets and cron expressions. Empty means the host zone.
type SchedulerConfig struct {
	Name        string `json:"name"`
	Timezone    string `json:"timezone,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/schedd.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`
}

// AdminConfig controls the admin HTTP server (/healthz, /metrics, /snapshot,
// /runs). A non-loopback address requires Token.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"` // default: "127.0.0.1:9477"
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"` // mount net/http/pprof under /debug/pprof/
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING and, when WatchdogSec is set on the unit,
	// periodic WATCHDOG=1 pings from a scheduled job.
	Notify bool `json:"notify"`
}

// JobConfig defines one command job. Exactly one trigger is set:
//   - every (+ optional at): calendar interval and phase, e.g. every "1d" at "02:00"
//   - cron: a cron expression in the scheduler timezone
//   - delay: a one-shot run after the daemon starts
type JobConfig struct {
	Name    string   `json:"name"`
	Every   string   `json:"every,omitempty"`
	At      string   `json:"at,omitempty"`
	Cron    string   `json:"cron,omitempty"`
	Delay   string   `json:"delay,omitempty"`
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`
	Timeout string   `json:"timeout,omitempty"` // Go duration string; empty means none
}

// BatchConfig runs a set of commands concurrently on each trigger and runs
// OnComplete once all of them finished, through a completer barrier.
type BatchConfig struct {
	Name       string              `json:"name"`
	Every      string              `json:"every,omitempty"`
	At         string              `json:"at,omitempty"`
	Cron       string              `json:"cron,omitempty"`
	Commands   map[string][]string `json:"commands"`
	OnComplete []string            `json:"on_complete,omitempty"`
	Timeout    string              `json:"timeout,omitempty"`
}
