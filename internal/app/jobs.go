package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"jobsched/internal/completer"
	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/metrics"
	"jobsched/internal/scheduler"
	logx "jobsched/pkg/logx"
)

// catalog owns the jobs built from the config file, keyed by name, and keeps
// the scheduler in sync with them across reloads.
type catalog struct {
	factory *job.Factory
	sched   *scheduler.Scheduler
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Completer
	spawn   func(name string, fn func(ctx context.Context) error)

	mu      sync.Mutex
	entries map[string]*job.Job
}

func (c *catalog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for n := range c.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// load builds every job of cfg and adds them all. Nothing is added if any
// definition fails to build.
func (c *catalog) load(cfg *config.Config) error {
	built := map[string]*job.Job{}
	var errs []error
	for _, name := range definedNames(cfg) {
		j, err := c.build(cfg, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		built[name] = j
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.mu.Lock()
	if c.entries == nil {
		c.entries = map[string]*job.Job{}
	}
	for name, j := range built {
		c.entries[name] = j
	}
	c.mu.Unlock()
	for _, j := range built {
		c.sched.AddJob(j)
	}
	return nil
}

// apply replaces the named jobs with their definitions in cfg. A name
// missing from cfg is removed. A name that fails to build keeps its old job.
func (c *catalog) apply(cfg *config.Config, names []string) error {
	var errs []error
	for _, name := range names {
		var next *job.Job
		if defined(cfg, name) {
			j, err := c.build(cfg, name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			next = j
		}

		c.mu.Lock()
		prev := c.entries[name]
		if next != nil {
			c.entries[name] = next
		} else {
			delete(c.entries, name)
		}
		c.mu.Unlock()

		if prev != nil {
			c.sched.RetireJob(prev)
		}
		if next != nil {
			c.sched.AddJob(next)
			c.log.Info("job.replaced", logx.String("job", name), logx.Time("next", next.NextTime()))
		} else {
			c.log.Info("job.removed", logx.String("job", name))
		}
	}
	return errors.Join(errs...)
}

func (c *catalog) build(cfg *config.Config, name string) (*job.Job, error) {
	for _, jc := range cfg.Jobs {
		if strings.TrimSpace(jc.Name) == name {
			return c.buildCommand(jc)
		}
	}
	for _, bc := range cfg.Batches {
		if strings.TrimSpace(bc.Name) == name {
			return c.buildBatch(bc)
		}
	}
	return nil, fmt.Errorf("job %q: not defined", name)
}

func (c *catalog) buildCommand(jc config.JobConfig) (*job.Job, error) {
	name := strings.TrimSpace(jc.Name)
	timeout, err := config.ParseDurationField("jobs."+name+".timeout", jc.Timeout)
	if err != nil {
		return nil, err
	}
	cmd := command{argv: jc.Command, dir: jc.Dir, timeout: timeout}
	log := c.log.With(logx.String("job", name))
	return c.trigger(name, jc.Every, jc.At, jc.Cron, jc.Delay, cmd.jobFunc(log))
}

func (c *catalog) buildBatch(bc config.BatchConfig) (*job.Job, error) {
	name := strings.TrimSpace(bc.Name)
	timeout, err := config.ParseDurationField("batches."+name+".timeout", bc.Timeout)
	if err != nil {
		return nil, err
	}
	log := c.log.With(logx.String("batch", name))

	cmds := make(map[string]command, len(bc.Commands))
	for k, argv := range bc.Commands {
		cmds[k] = command{argv: argv, timeout: timeout}
	}
	b := newBatch(name, cmds, c.factory.Clock(), log, c.spawn)

	var onDone job.Func
	if len(bc.OnComplete) > 0 {
		onDone = command{argv: bc.OnComplete, timeout: timeout}.jobFunc(log)
	} else {
		onDone = func(context.Context) error {
			log.Info("batch.completed")
			return nil
		}
	}
	doneJob, err := c.factory.Now(name+".complete", onDone)
	if err != nil {
		return nil, err
	}
	b.done, err = completer.New(name, c.sched, doneJob,
		completer.WithLogger(log),
		completer.WithClock(c.factory.Clock()),
		completer.WithMetrics(c.metrics),
		completer.WithBus(c.bus),
	)
	if err != nil {
		return nil, err
	}
	return c.trigger(name, bc.Every, bc.At, bc.Cron, "", b.trigger)
}

// trigger creates the job for whichever of every, cron or delay is set.
func (c *catalog) trigger(name, every, at, cronExpr, delay string, fn job.Func) (*job.Job, error) {
	switch {
	case strings.TrimSpace(every) != "":
		iv, err := job.ParseInterval(every)
		if err != nil {
			return nil, fmt.Errorf("%s.every: %w", name, err)
		}
		off, err := job.ParseOffset(at)
		if err != nil {
			return nil, fmt.Errorf("%s.at: %w", name, err)
		}
		return c.factory.Repeating(name, iv, off, fn)
	case strings.TrimSpace(cronExpr) != "":
		return c.factory.Cron(name, cronExpr, fn)
	case strings.TrimSpace(delay) != "":
		d, err := config.ParseDurationOrDefault(name+".delay", delay, 0)
		if err != nil {
			return nil, err
		}
		return c.factory.Once(name, d, fn)
	default:
		return nil, fmt.Errorf("job %q: no trigger", name)
	}
}

func definedNames(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Jobs)+len(cfg.Batches))
	for _, jc := range cfg.Jobs {
		out = append(out, strings.TrimSpace(jc.Name))
	}
	for _, bc := range cfg.Batches {
		out = append(out, strings.TrimSpace(bc.Name))
	}
	return out
}

func defined(cfg *config.Config, name string) bool {
	for _, n := range definedNames(cfg) {
		if n == name {
			return true
		}
	}
	return false
}

// workerBudget is the longest one run on the scheduler worker may take: the
// largest timeout of a command that runs there, plus the kill grace. Zero
// means unbounded, because some such command has no timeout. Batch commands
// run off the worker; only their on_complete counts.
func workerBudget(cfg *config.Config) time.Duration {
	var longest time.Duration
	bounded := func(raw string) bool {
		d, err := config.ParseDurationField("timeout", raw)
		if err != nil || d <= 0 {
			return false
		}
		longest = max(longest, d)
		return true
	}
	for _, jc := range cfg.Jobs {
		if !bounded(jc.Timeout) {
			return 0
		}
	}
	for _, bc := range cfg.Batches {
		if len(bc.OnComplete) > 0 && !bounded(bc.Timeout) {
			return 0
		}
	}
	return longest + commandWaitDelay + time.Second
}
