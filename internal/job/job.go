package job

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// completionRecheck bounds a single wait in WaitForCompletion, so a missed
// broadcast can never park the caller forever.
const completionRecheck = time.Second

// Func is the unit of work performed by a Job.
//
// ctx is canceled when the owning Scheduler stops; there is no other
// preemption, so long-running bodies should watch it themselves.
type Func func(ctx context.Context) error

// Option configures a Job at construction.
type Option func(*Job)

// WithOnComplete installs a hook that runs after every execution, whether or
// not the func failed.
func WithOnComplete(fn func()) Option {
	return func(j *Job) { j.onComplete = fn }
}

// Job is one schedulable unit of work.
//
// A Job is owned by the Scheduler that holds it. nextTime only changes inside
// PerformTask, which a Scheduler calls after taking the job out of its pending
// set.
type Job struct {
	id   uint64
	name string
	fn   Func

	onComplete func()

	clock clockwork.Clock
	loc   *time.Location

	// interval is 0 for one-shot jobs.
	interval time.Duration
	offset   time.Duration
	cron     cron.Schedule

	mu          sync.Mutex
	nextTime    time.Time
	completions uint64
	doneCh      chan struct{}
}

func (j *Job) ID() uint64              { return j.id }
func (j *Job) Name() string            { return j.name }
func (j *Job) Interval() time.Duration { return j.interval }
func (j *Job) Offset() time.Duration   { return j.offset }

// IsRepeating reports whether the job is re-armed after each execution.
func (j *Job) IsRepeating() bool { return j.interval > 0 }

// NextTime returns the instant the job is next due.
func (j *Job) NextTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextTime
}

// Delay returns the time remaining until the job is due. Negative means overdue.
func (j *Job) Delay() time.Duration {
	return j.NextTime().Sub(j.clock.Now())
}

// Completions returns how many times the job has finished executing.
func (j *Job) Completions() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completions
}

// Key returns the ordering key of the job at this moment.
func (j *Job) Key() Key {
	return Key{Next: j.NextTime(), Interval: j.interval, Offset: j.offset, ID: j.id}
}

// computeNextTime moves nextTime to the next occurrence after now.
// The ordering key changes, so the job must not sit in a pending set.
func (j *Job) computeNextTime() {
	now := j.clock.Now()
	var next time.Time
	if j.cron != nil {
		next = j.cron.Next(now.In(j.loc))
	} else {
		next = alignNext(now, j.loc, j.interval, j.offset)
	}
	j.mu.Lock()
	j.nextTime = next
	j.mu.Unlock()
}

// PerformTask runs one occurrence of the job.
//
// A repeating job computes its next due time before running, so a slow or
// failing body never shifts the schedule. The completion hook, counter and
// waiter broadcast happen regardless of the outcome. The func's error (or a
// *PanicError) is returned to the caller.
func (j *Job) PerformTask(ctx context.Context) error {
	if j.IsRepeating() {
		j.computeNextTime()
	}
	defer j.complete()
	return j.perform(ctx)
}

func (j *Job) perform(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return j.fn(ctx)
}

func (j *Job) complete() {
	if j.onComplete != nil {
		j.onComplete()
	}
	j.mu.Lock()
	j.completions++
	ch := j.doneCh
	j.doneCh = make(chan struct{})
	j.mu.Unlock()
	close(ch)
}

// WaitForCompletion blocks until the job has completed at least once or ctx
// is done.
func (j *Job) WaitForCompletion(ctx context.Context) error {
	t := time.NewTimer(completionRecheck)
	defer t.Stop()
	for {
		j.mu.Lock()
		n := j.completions
		ch := j.doneCh
		j.mu.Unlock()
		if n > 0 {
			return nil
		}
		select {
		case <-ch:
		case <-t.C:
			t.Reset(completionRecheck)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *Job) String() string {
	if j.name != "" {
		return j.name
	}
	return "job"
}
