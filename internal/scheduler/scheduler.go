package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/metrics"
	"jobsched/internal/runtime/supervisor"
	logx "jobsched/pkg/logx"
)

const tracerName = "jobsched/internal/scheduler"

// Scheduler runs jobs one at a time on a single worker, earliest due first.
//
// Jobs are ordered by job.Compare, so jobs due at the same instant run in a
// reproducible order. AddJob and RemoveJob are safe from any goroutine.
type Scheduler struct {
	name string

	clock   clockwork.Clock
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Scheduler
	tracer  trace.Tracer
	exit    func(int)

	mu          sync.Mutex
	pending     *pendingSet
	handler     Handler
	executing   *job.Job
	execSince   time.Time
	retired     bool // the executing job must not be re-armed
	history     *queue.Queue
	historySize int
	runs        uint64
	failures    uint64

	// wake has capacity 1: any number of mutations while the worker is busy
	// collapse into a single re-evaluation.
	wake chan struct{}

	// runMu serializes Start and Stop.
	runMu     sync.Mutex
	runner    Runner
	ownRunner bool
	running   atomic.Bool
}

func New(name string, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:        name,
		clock:       clockwork.NewRealClock(),
		tracer:      otel.Tracer(tracerName),
		exit:        os.Exit,
		pending:     newPendingSet(),
		history:     queue.New(),
		historySize: defaultHistorySize,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("scheduler", name))
	return s
}

func (s *Scheduler) Name() string { return s.name }

// Start launches the worker. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running.Load() {
		return
	}
	if s.runner == nil || s.ownRunner {
		s.runner = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithClock(s.clock))
		s.ownRunner = true
	}
	s.running.Store(true)
	s.runner.Go("scheduler."+s.name, s.loop)
	s.log.Info("scheduler.started", logx.Int("pending", s.Len()))
}

// Stop stops the worker after the job in flight, if any, returns. The
// context passed to that job is canceled. Pending jobs stay in the set and
// run after a later Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	err := s.runner.Stop(ctx)
	s.log.Info("scheduler.stopped", logx.Int("pending", s.Len()))
	return err
}

// AddJob inserts j into the pending set and wakes the worker. Adding a job
// that is already pending moves it to its current due time. Nil is ignored.
func (s *Scheduler) AddJob(j *job.Job) {
	if j == nil {
		return
	}
	s.mu.Lock()
	s.pending.insert(j)
	n := s.pending.len()
	s.mu.Unlock()
	s.setPending(n)
	s.log.Trace("job.added", logx.Uint64("job_id", j.ID()), logx.String("job", j.String()), logx.Time("next", j.NextTime()))
	s.signal()
}

// RemoveJob removes j if it is pending and reports whether it did. A job
// that is already executing is not affected.
func (s *Scheduler) RemoveJob(j *job.Job) bool {
	if j == nil {
		return false
	}
	s.mu.Lock()
	ok := s.pending.remove(j)
	n := s.pending.len()
	s.mu.Unlock()
	if ok {
		s.setPending(n)
		s.signal()
	}
	return ok
}

// RetireJob removes j for good. Unlike RemoveJob it also covers the job in
// flight: that run finishes normally but a repeating job is not re-armed
// afterwards. It reports whether j was pending or executing.
func (s *Scheduler) RetireJob(j *job.Job) bool {
	if j == nil {
		return false
	}
	s.mu.Lock()
	removed := s.pending.remove(j)
	inFlight := !removed && s.executing == j
	if inFlight {
		s.retired = true
	}
	n := s.pending.len()
	s.mu.Unlock()
	if removed {
		s.setPending(n)
		s.signal()
	}
	if inFlight {
		s.log.Debug("job.retired_in_flight", logx.Uint64("job_id", j.ID()), logx.String("job", j.String()))
	}
	return removed || inFlight
}

// SetHandler replaces the error handler. Nil restores logging.
func (s *Scheduler) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Running reports whether the worker has been started and not stopped.
func (s *Scheduler) Running() bool { return s.running.Load() }

// InFlight returns the job the worker is executing and when it started, or
// ok=false when the worker is idle.
func (s *Scheduler) InFlight() (j *job.Job, since time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.executing == nil {
		return nil, time.Time{}, false
	}
	return s.executing, s.execSince, true
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) setPending(n int) {
	if s.metrics != nil {
		s.metrics.Pending.WithLabelValues(s.name).Set(float64(n))
	}
}
