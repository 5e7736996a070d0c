// Package completer implements a reusable fan-in barrier.
//
// Producers register task keys with BeginTask and unregister them with
// CompleteTask. Once MakeReady declares the set closed and the set is empty,
// the completion job is submitted to the target exactly once. Reset starts a
// new epoch.
package completer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/metrics"
	logx "jobsched/pkg/logx"
)

var (
	ErrNilTarget    = errors.New("completer: target is nil")
	ErrNilJob       = errors.New("completer: completion job is nil")
	ErrRepeatingJob = errors.New("completer: completion job must be one-shot")
)

// Target receives the completion job. *scheduler.Scheduler satisfies it.
type Target interface {
	AddJob(j *job.Job)
}

// Misuse operations, as reported in logs and metrics.
const (
	OpBegin    = "begin"
	OpComplete = "complete"
	OpReady    = "ready"
)

// MisuseEvent is the payload of completer.misuse events.
type MisuseEvent struct {
	Completer string `json:"completer"`
	Op        string `json:"op"`
	Key       string `json:"key,omitempty"`
	Reason    string `json:"reason"`
}

// FireEvent is the payload of completer.fired and completer.forced events.
type FireEvent struct {
	Completer   string    `json:"completer"`
	Stamp       time.Time `json:"stamp"`
	Outstanding []string  `json:"outstanding,omitempty"`
}

type Option func(*Completer)

func WithLogger(log logx.Logger) Option { return func(c *Completer) { c.log = log } }

func WithClock(clk clockwork.Clock) Option {
	return func(c *Completer) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func WithMetrics(m *metrics.Completer) Option { return func(c *Completer) { c.metrics = m } }

func WithBus(b eventbus.Bus) Option { return func(c *Completer) { c.bus = b } }

type Completer struct {
	name   string
	target Target
	job    *job.Job

	log     logx.Logger
	clock   clockwork.Clock
	metrics *metrics.Completer
	bus     eventbus.Bus

	mu        sync.Mutex
	tasks     map[string]struct{}
	ready     bool
	completed bool
	stamp     time.Time
}

func New(name string, target Target, j *job.Job, opts ...Option) (*Completer, error) {
	if target == nil {
		return nil, ErrNilTarget
	}
	if j == nil {
		return nil, ErrNilJob
	}
	if j.IsRepeating() {
		return nil, ErrRepeatingJob
	}
	c := &Completer{
		name:   name,
		target: target,
		job:    j,
		clock:  clockwork.NewRealClock(),
		tasks:  map[string]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logx.String("completer", name))
	c.stamp = c.clock.Now()
	return c, nil
}

func (c *Completer) Name() string { return c.name }

// Stamp returns the timestamp of the current epoch.
func (c *Completer) Stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stamp
}

// Reset begins a new epoch stamped with stamp. An epoch that was made ready
// but never drained is force-completed first, so its completion job still
// fires once.
//
// Every epoch submits the same *job.Job and the scheduler keeps one pending
// entry per job. If a later epoch fires while an earlier submission has not
// run yet, the two collapse into a single run.
func (c *Completer) Reset(stamp time.Time) {
	c.mu.Lock()
	force := c.ready && !c.completed
	var left []string
	if force {
		left = c.outstandingLocked()
	}
	old := c.stamp
	c.tasks = map[string]struct{}{}
	c.ready = false
	c.completed = false
	c.stamp = stamp
	c.mu.Unlock()
	c.setOutstanding(0)

	if !force {
		return
	}
	c.log.Warn("completer.forced", logx.Time("epoch", old), logx.Strings("outstanding", left))
	if c.metrics != nil {
		c.metrics.Forced.WithLabelValues(c.name).Inc()
	}
	c.publish(eventbus.CompleterForced, FireEvent{Completer: c.name, Stamp: old, Outstanding: left})
	c.target.AddJob(c.job)
}

// BeginTask registers key. It fails if key is already registered or the
// epoch was made ready.
func (c *Completer) BeginTask(key string) bool {
	c.mu.Lock()
	var reason string
	switch _, dup := c.tasks[key]; {
	case c.ready:
		reason = "task set already closed"
	case dup:
		reason = "duplicate key"
	default:
		c.tasks[key] = struct{}{}
	}
	n := len(c.tasks)
	c.mu.Unlock()

	if reason != "" {
		c.misuse(OpBegin, key, reason)
		return false
	}
	c.setOutstanding(n)
	return true
}

// CompleteTask unregisters key. When it was the last key of a ready epoch the
// completion job is submitted.
func (c *Completer) CompleteTask(key string) bool {
	c.mu.Lock()
	if _, ok := c.tasks[key]; !ok {
		c.mu.Unlock()
		c.misuse(OpComplete, key, "unknown key")
		return false
	}
	delete(c.tasks, key)
	n := len(c.tasks)
	fire := c.tryCompleteLocked()
	stamp := c.stamp
	c.mu.Unlock()

	c.setOutstanding(n)
	if fire {
		c.fire(stamp)
	}
	return true
}

// MakeReady closes the task set. If no task is outstanding the completion job
// is submitted immediately.
func (c *Completer) MakeReady() bool {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		c.misuse(OpReady, "", "already ready")
		return false
	}
	c.ready = true
	fire := c.tryCompleteLocked()
	stamp := c.stamp
	c.mu.Unlock()

	if fire {
		c.fire(stamp)
	}
	return true
}

// CheckComplete reports whether the epoch is complete or would complete now.
// An epoch that is not ready yet counts as complete. State is not changed.
func (c *Completer) CheckComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return true
	}
	if c.completed || len(c.tasks) == 0 {
		return true
	}
	c.log.Debug("completer.incomplete", logx.Strings("outstanding", c.outstandingLocked()))
	return false
}

// Outstanding returns the registered keys in sorted order.
func (c *Completer) Outstanding() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstandingLocked()
}

func (c *Completer) outstandingLocked() []string {
	keys := make([]string, 0, len(c.tasks))
	for k := range c.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Completer) tryCompleteLocked() bool {
	if !c.ready || c.completed || len(c.tasks) > 0 {
		return false
	}
	c.completed = true
	return true
}

// fire submits the completion job. Called without c.mu held: the target may
// take its own lock.
func (c *Completer) fire(stamp time.Time) {
	c.log.Debug("completer.fired", logx.Time("epoch", stamp))
	if c.metrics != nil {
		c.metrics.Fired.WithLabelValues(c.name).Inc()
	}
	c.publish(eventbus.CompleterFired, FireEvent{Completer: c.name, Stamp: stamp})
	c.target.AddJob(c.job)
}

func (c *Completer) misuse(op, key, reason string) {
	c.log.Warn("completer.misuse", logx.String("op", op), logx.String("key", key), logx.String("reason", reason))
	if c.metrics != nil {
		c.metrics.Misuse.WithLabelValues(c.name, op).Inc()
	}
	c.publish(eventbus.CompleterMisuse, MisuseEvent{Completer: c.name, Op: op, Key: key, Reason: reason})
}

func (c *Completer) setOutstanding(n int) {
	if c.metrics != nil {
		c.metrics.Outstanding.WithLabelValues(c.name).Set(float64(n))
	}
}

func (c *Completer) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.clock.Now(), Data: data})
}
