package job

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field specs, an optional leading seconds field and
// descriptors like "@hourly" or "@every 90s".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron expression with the parser used by Factory.Cron.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

// Factory creates jobs that share a clock, a location and an id sequence.
type Factory struct {
	seq   atomic.Uint64
	clock clockwork.Clock
	loc   *time.Location
}

type FactoryOption func(*Factory)

// WithClock sets the time source for due-time and delay computations.
func WithClock(c clockwork.Clock) FactoryOption {
	return func(f *Factory) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithLocation sets the calendar used for interval arithmetic and phase
// alignment.
func WithLocation(loc *time.Location) FactoryOption {
	return func(f *Factory) {
		if loc != nil {
			f.loc = loc
		}
	}
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{clock: clockwork.NewRealClock(), loc: time.Local}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Factory) Clock() clockwork.Clock   { return f.clock }
func (f *Factory) Location() *time.Location { return f.loc }

func (f *Factory) newJob(name string, fn Func, opts []Option) *Job {
	j := &Job{
		id:     f.seq.Add(1) - 1,
		name:   strings.TrimSpace(name),
		fn:     fn,
		clock:  f.clock,
		loc:    f.loc,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(j)
		}
	}
	return j
}

// Once creates a one-shot job due after delay (0 = immediately).
func (f *Factory) Once(name string, delay time.Duration, fn Func, opts ...Option) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	j := f.newJob(name, fn, opts)
	j.nextTime = f.clock.Now().Add(delay)
	return j, nil
}

// Now creates a one-shot job due immediately.
func (f *Factory) Now(name string, fn Func, opts ...Option) (*Job, error) {
	return f.Once(name, 0, fn, opts...)
}

// Every creates a repeating job aligned on whole intervals (offset 0).
func (f *Factory) Every(name string, interval Span, fn Func, opts ...Option) (*Job, error) {
	return f.Repeating(name, interval, Seconds(0), fn, opts...)
}

// Repeating creates a job due every interval, offset from the interval
// boundary by offset. Days(1) with Hours(2) runs daily at 02:00 local time.
func (f *Factory) Repeating(name string, interval, offset Span, fn Func, opts ...Option) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	iv, err := interval.Duration(f.loc)
	if err != nil {
		return nil, err
	}
	if iv <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroInterval, interval)
	}
	off, err := offset.Duration(f.loc)
	if err != nil {
		return nil, err
	}
	if off >= iv {
		return nil, fmt.Errorf("%w: offset %s, interval %s", ErrOffsetTooLarge, offset, interval)
	}
	j := f.newJob(name, fn, opts)
	j.interval = iv
	j.offset = off
	j.computeNextTime()
	return j, nil
}

// Cron creates a repeating job whose occurrences follow a cron expression in
// the factory location. Its interval is the gap between the first two
// occurrences, which only matters for ordering ties.
func (f *Factory) Cron(name, expr string, fn Func, opts ...Option) (*Job, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("job: cron %q: %w", expr, err)
	}
	now := f.clock.Now().In(f.loc)
	first := sched.Next(now)
	if first.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrNoOccurrence, expr)
	}
	second := sched.Next(first)
	if second.IsZero() || !second.After(first) {
		return nil, fmt.Errorf("%w: %q", ErrNoOccurrence, expr)
	}
	j := f.newJob(name, fn, opts)
	j.cron = sched
	j.interval = second.Sub(first)
	j.nextTime = first
	return j, nil
}
