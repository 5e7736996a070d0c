package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/metrics"
	logx "jobsched/pkg/logx"
)

const defaultHistorySize = 200

// Handler receives every error returned (or panicked) by a job. It runs
// synchronously on the worker goroutine, so a slow handler delays the next
// job.
type Handler func(j *job.Job, err error)

// Runner hosts the worker goroutine. *supervisor.Supervisor satisfies it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
	Stop(ctx context.Context) error
}

type Option func(*Scheduler)

func WithHandler(h Handler) Option { return func(s *Scheduler) { s.handler = h } }

// WithClock sets the clock used for delays and timers. It must be the clock of
// the job.Factory that creates the submitted jobs.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithMetrics(m *metrics.Scheduler) Option { return func(s *Scheduler) { s.metrics = m } }

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRunner replaces the default supervisor that hosts the worker.
func WithRunner(r Runner) Option { return func(s *Scheduler) { s.runner = r } }

// WithHistorySize bounds the run history kept for Snapshot (default 200).
func WithHistorySize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithExit replaces os.Exit for fatal job errors.
func WithExit(fn func(code int)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.exit = fn
		}
	}
}

// HistoryItem records one finished execution.
type HistoryItem struct {
	JobID    uint64        `json:"job_id"`
	Name     string        `json:"name"`
	Due      time.Time     `json:"due"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// PendingJob describes one entry of the pending set.
type PendingJob struct {
	ID       uint64        `json:"id"`
	Name     string        `json:"name"`
	Next     time.Time     `json:"next"`
	Interval time.Duration `json:"interval"`
	Offset   time.Duration `json:"offset"`
}

// Snapshot is a point-in-time view of a scheduler. Pending is in execution
// order; History is oldest first.
type Snapshot struct {
	Name      string        `json:"name"`
	Running   bool          `json:"running"`
	Executing *PendingJob   `json:"executing,omitempty"`
	Pending   []PendingJob  `json:"pending"`
	History   []HistoryItem `json:"history"`
	Runs      uint64        `json:"runs"`
	Failures  uint64        `json:"failures"`
}
