package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"jobsched/internal/config"
	"jobsched/internal/job"
)

type nextSpec struct {
	every string
	at    string
	cron  string
	tz    string
}

func nextCmd() *cobra.Command {
	var (
		spec  nextSpec
		count int
		from  string
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next occurrences of a schedule",
		Example: `  schedd next --every 1d --at 2h --tz America/Chicago -n 3
  schedd next --cron "*/15 * * * *"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			if strings.TrimSpace(from) != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = t
			}
			times, err := upcoming(spec, start, count)
			if err != nil {
				return err
			}
			for _, t := range times {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&spec.every, "every", "", "repeat interval, e.g. 15m, 1d, 2w, 1mo")
	f.StringVar(&spec.at, "at", "", "phase offset within the interval, e.g. 2h or 02:30")
	f.StringVar(&spec.cron, "cron", "", "cron expression (instead of --every)")
	f.StringVar(&spec.tz, "tz", "", "IANA time zone (default: local)")
	f.StringVar(&from, "from", "", "start instant in RFC3339 (default: now)")
	f.IntVarP(&count, "count", "n", 5, "number of occurrences")
	return cmd
}

// upcoming lists the next n occurrences after from. It drives a real job on
// a fake clock, so the output is exactly what the scheduler would do.
func upcoming(spec nextSpec, from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, errors.New("count must be > 0")
	}
	hasEvery, hasCron := strings.TrimSpace(spec.every) != "", strings.TrimSpace(spec.cron) != ""
	if hasEvery == hasCron {
		return nil, errors.New("exactly one of --every or --cron is required")
	}
	loc, err := config.LoadLocation(spec.tz)
	if err != nil {
		return nil, fmt.Errorf("--tz: %w", err)
	}

	clk := clockwork.NewFakeClockAt(from)
	f := job.NewFactory(job.WithClock(clk), job.WithLocation(loc))
	noop := func(context.Context) error { return nil }

	var j *job.Job
	if hasCron {
		if strings.TrimSpace(spec.at) != "" {
			return nil, errors.New("--at cannot be combined with --cron")
		}
		j, err = f.Cron("next", spec.cron, noop)
	} else {
		var iv, off job.Span
		if iv, err = job.ParseInterval(spec.every); err != nil {
			return nil, fmt.Errorf("--every: %w", err)
		}
		if off, err = job.ParseOffset(spec.at); err != nil {
			return nil, fmt.Errorf("--at: %w", err)
		}
		j, err = f.Repeating("next", iv, off, noop)
	}
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	for len(out) < n {
		t := j.NextTime()
		out = append(out, t.In(loc))
		clk.Advance(t.Sub(clk.Now()))
		if err := j.PerformTask(context.Background()); err != nil {
			return nil, err
		}
	}
	return out, nil
}
