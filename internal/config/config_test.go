package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

const sampleYAML = `
logging:
  level: info
  console: true
  stderr_sink: {enabled: true, min_level: error, rate_per_sec: 5}
scheduler:
  name: main
  timezone: America/Chicago
  history_size: 50
storage: {driver: file, path: ./data/schedd.db}
admin: {enabled: true, address: "127.0.0.1:9477"}
systemd: {notify: false}
jobs:
  - {name: rotate, every: 1d, at: "02:00", command: [logrotate, /etc/x.conf], timeout: 5m}
  - {name: ping, cron: "*/5 * * * *", command: ["true"]}
  - {name: once, delay: 10s, command: [echo, hi]}
batches:
  - name: sync
    every: 1h
    commands:
      a: [sync-a]
      b: [sync-b]
    on_complete: [notify-done]
`

const sampleJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""},
              "stderr_sink": {"enabled": true, "min_level": "error", "rate_per_sec": 5}},
  "scheduler": {"name": "main", "timezone": "America/Chicago", "history_size": 50},
  "storage": {"driver": "file", "path": "./data/schedd.db"},
  "admin": {"enabled": true, "address": "127.0.0.1:9477"},
  "systemd": {"notify": false},
  "jobs": [
    {"name": "rotate", "every": "1d", "at": "02:00", "command": ["logrotate", "/etc/x.conf"], "timeout": "5m"},
    {"name": "ping", "cron": "*/5 * * * *", "command": ["true"]},
    {"name": "once", "delay": "10s", "command": ["echo", "hi"]}
  ],
  "batches": [
    {"name": "sync", "every": "1h", "commands": {"a": ["sync-a"], "b": ["sync-b"]}, "on_complete": ["notify-done"]}
  ]
}`

func TestYAMLAndJSONDecodeAlike(t *testing.T) {
	t.Parallel()
	y, err := ParseBytes("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	j, err := ParseBytes("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !reflect.DeepEqual(y, j) {
		t.Fatalf("yaml and json differ:\n%+v\n%+v", y, j)
	}
	if err := Validate(y); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	if _, err := ParseBytes("c.yaml", []byte("scheduler: {name: x, workers: 3}\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := ParseBytes("c.json", []byte(`{"jobs": []} {"jobs": []}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := ParseBytes("c.yaml", []byte("jobs: []\n---\njobs: []\n")); err == nil {
		t.Fatal("second yaml document accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Name: "main", Timezone: "UTC"},
			Jobs:      []JobConfig{{Name: "a", Every: "1h", Command: []string{"true"}}},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no trigger", mutate: func(c *Config) { c.Jobs[0].Every = "" }, wantErr: "exactly one of"},
		{name: "two triggers", mutate: func(c *Config) { c.Jobs[0].Cron = "* * * * *" }, wantErr: "exactly one of"},
		{name: "offset too large", mutate: func(c *Config) { c.Jobs[0].At = "90m" }, wantErr: "must be smaller"},
		{name: "bad cron", mutate: func(c *Config) { c.Jobs[0].Every = ""; c.Jobs[0].Cron = "nope" }, wantErr: "cron"},
		{name: "duplicate name", mutate: func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }, wantErr: "already used"},
		{name: "empty command", mutate: func(c *Config) { c.Jobs[0].Command = nil }, wantErr: "command is required"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "bad timeout", mutate: func(c *Config) { c.Jobs[0].Timeout = "soon" }, wantErr: "timeout"},
		{name: "storage without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, wantErr: "storage.path"},
		{name: "batch without commands", mutate: func(c *Config) {
			c.Batches = []BatchConfig{{Name: "b", Every: "1d"}}
		}, wantErr: "commands is required"},
	}
	for _, tt := range tests {
		c := base()
		tt.mutate(c)
		err := Validate(c)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: err = %v, want containing %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a, _ := ParseBytes("c.yaml", []byte(sampleYAML))
	b, _ := ParseBytes("c.yaml", []byte(sampleYAML))
	if ch := Diff(a, b); len(ch.Sections) != 0 {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}
	b.Jobs[0].At = "03:00"
	b.Jobs = append(b.Jobs, JobConfig{Name: "new", Every: "1m", Command: []string{"true"}})
	b.Logging.Level = "debug"
	ch := Diff(a, b)
	if !ch.Has("jobs") || !ch.Has("logging") || ch.Has("storage") {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if !reflect.DeepEqual(ch.Jobs, []string{"new", "rotate"}) {
		t.Fatalf("jobs = %v", ch.Jobs)
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "schedd.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("scheduler: {name: main, timezone: UTC}\njobs: [{name: a, every: 1h, command: [\"true\"]}]\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rejected := make(chan error, 4)
	m.OnReject(func(err error) { rejected <- err })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	write("scheduler: {name: main, timezone: UTC}\njobs: [{name: a, every: 0, command: [\"true\"]}]\n")
	select {
	case <-rejected:
	case <-time.After(3 * time.Second):
		t.Fatal("invalid reload was not rejected")
	}
	if got := m.Get().Jobs[0].Every; got != "1h" {
		t.Fatalf("committed every = %q after rejected reload", got)
	}

	write("scheduler: {name: main, timezone: UTC}\njobs: [{name: a, every: 2h, command: [\"true\"]}]\n")
	select {
	case cfg := <-ch:
		if cfg.Jobs[0].Every != "2h" {
			t.Fatalf("published every = %q", cfg.Jobs[0].Every)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid reload not published")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: " 90s ", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "2d", want: 48 * time.Hour},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "1mo", wantErr: true},
		{in: "-5s", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDurationField(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDurationField(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Errorf("ParseDurationOrDefault empty = %v, %v", d, err)
	}
}

func TestYAMLAnchorsAndErrors(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("c.yml", []byte(`
jobs:
  - {name: backup, every: 1d, at: "02:00", command: &cmd [run.sh, --all]}
  - {name: vacuum, every: 1w, command: *cmd}
batches:
  - name: sync
    every: 1h
    commands: {a: [a.sh]}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].At != "02:00" || cfg.Jobs[1].Name != "vacuum" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if !reflect.DeepEqual(cfg.Jobs[1].Command, []string{"run.sh", "--all"}) {
		t.Fatalf("alias not resolved: %v", cfg.Jobs[1].Command)
	}

	if _, err := ParseBytes("c.yaml", []byte("jobs:\n  - name: a\n    every: [1m\n")); err == nil {
		t.Fatal("broken yaml accepted")
	}
	_, err = ParseBytes("c.yaml", []byte("base: &b {level: info}\nlogging:\n  <<: *b\n"))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("merge key err = %v", err)
	}
	if cfg, err := ParseBytes("c.yaml", nil); err != nil || len(cfg.Jobs) != 0 {
		t.Fatalf("empty file = %+v, %v", cfg, err)
	}
}
