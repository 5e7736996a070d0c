package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestUpcomingEveryAt(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	got, err := upcoming(nextSpec{every: "1d", at: "02:00", tz: "UTC"}, from, 3)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 6, 4, 2, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 5, 2, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 6, 2, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUpcomingKeepsLocalHourAcrossDST(t *testing.T) {
	t.Parallel()
	// US DST starts 2024-03-10.
	from := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	got, err := upcoming(nextSpec{every: "1d", at: "2h", tz: "America/Chicago"}, from, 3)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	loc := got[0].Location()
	// 02:00 does not exist on 2024-03-10; the run lands just after the gap.
	if want := time.Date(2024, 3, 10, 3, 0, 0, 0, loc); !got[0].Equal(want) {
		t.Fatalf("got[0] = %v, want %v", got[0], want)
	}
	for i, ts := range got[1:] {
		if ts.Hour() != 2 || ts.Day() != 11+i {
			t.Fatalf("got[%d] = %v, want 02:00 local on March %d", i+1, ts, 11+i)
		}
	}
}

func TestUpcomingCron(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 6, 3, 12, 7, 0, 0, time.UTC)
	got, err := upcoming(nextSpec{cron: "*/15 * * * *", tz: "UTC"}, from, 3)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	for i, m := range []int{15, 30, 45} {
		if got[i].Minute() != m || got[i].Hour() != 12 {
			t.Fatalf("got[%d] = %v", i, got[i])
		}
	}
}

func TestUpcomingRejectsBadInput(t *testing.T) {
	t.Parallel()
	from := time.Now()
	tests := []nextSpec{
		{},
		{every: "1h", cron: "* * * * *"},
		{every: "1h", at: "2h"},
		{every: "nope"},
		{cron: "* * * * *", at: "1m"},
		{every: "1h", tz: "Mars/Olympus"},
	}
	for _, spec := range tests {
		if _, err := upcoming(spec, from, 1); err == nil {
			t.Errorf("upcoming(%+v) succeeded", spec)
		}
	}
	if _, err := upcoming(nextSpec{every: "1h"}, from, 0); err == nil {
		t.Error("count 0 accepted")
	}
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedd.json")
	body := `{"scheduler": {"name": "main", "timezone": "UTC"}, "jobs": [{"name": "a", "every": "1h", "command": ["true"]}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "ok (1 jobs, 0 batches)") {
		t.Fatalf("output = %q", out.String())
	}
}
