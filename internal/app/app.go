// Package app wires the schedd daemon: one scheduler fed with command and
// batch jobs from the config file, the run journal, the admin server and the
// service manager notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/admin"
	"jobsched/internal/config"
	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	"jobsched/internal/metrics"
	"jobsched/internal/runtime/supervisor"
	"jobsched/internal/scheduler"
	"jobsched/internal/storage"
	logx "jobsched/pkg/logx"
)

type App struct {
	cfgm  *config.Manager
	clock clockwork.Clock
	exit  func(int)

	sup atomic.Pointer[supervisor.Supervisor]
	// budget is workerBudget of the current config, in nanoseconds.
	budget atomic.Int64

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Set
	factory *job.Factory
	sched   *scheduler.Scheduler
	jobs    *catalog
	admin   *admin.Server
	notify  *notifier
}

type Option func(*App)

// WithClock drives every job and the scheduler from c. Tests pass a
// clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithExit replaces os.Exit for fatal job errors.
func WithExit(fn func(code int)) Option { return func(a *App) { a.exit = fn } }

// New loads and validates the config file and builds every component. No
// goroutine runs before Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(mapLogConfig(cfg))
	log := a.log.With(logx.Component("app"))

	a.bus = eventbus.New()
	a.metrics = metrics.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, a.log.With(logx.Component("storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage.enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	a.factory = job.NewFactory(job.WithClock(a.clock), job.WithLocation(loc))

	name := schedulerName(cfg)
	schedOpts := []scheduler.Option{
		scheduler.WithClock(a.clock),
		scheduler.WithLogger(a.log.With(logx.Component("scheduler"))),
		scheduler.WithBus(a.bus),
		scheduler.WithMetrics(a.metrics.Scheduler),
		scheduler.WithHistorySize(cfg.Scheduler.HistorySize),
	}
	if a.exit != nil {
		schedOpts = append(schedOpts, scheduler.WithExit(a.exit))
	}
	a.sched = scheduler.New(name, schedOpts...)

	a.jobs = &catalog{
		factory: a.factory,
		sched:   a.sched,
		log:     a.log.With(logx.Component("jobs")),
		bus:     a.bus,
		metrics: a.metrics.Completer,
		spawn:   a.spawn,
	}
	if err := a.jobs.load(cfg); err != nil {
		a.closeStore()
		return nil, err
	}

	a.budget.Store(int64(workerBudget(cfg)))
	a.notify = newNotifier(cfg.Systemd.Notify, a.log.With(logx.Component("systemd")))

	deps := admin.Deps{
		Gatherer:   a.metrics.Registry,
		Scheduler:  a.sched,
		Goroutines: a.goroutines,
	}
	if a.store != nil {
		deps.Runs = a.store
	}
	a.admin = admin.New(mapAdminConfig(cfg), deps, a.log.With(logx.Component("admin")))

	log.Info("app.configured",
		logx.String("scheduler", name),
		logx.String("timezone", loc.String()),
		logx.Strings("jobs", a.jobs.names()),
	)
	return a, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Metrics() *metrics.Set           { return a.metrics }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Store() storage.Store            { return a.store }
func (a *App) Admin() *admin.Server            { return a.admin }

// ReopenLogs reopens the log file, for use after logrotate moved it.
func (a *App) ReopenLogs() error { return a.logs.Reopen() }

// Jobs lists the names of the jobs defined by the config file.
func (a *App) Jobs() []string { return a.jobs.names() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	sup := a.sup.Load()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if sup := a.sup.Load(); sup != nil {
		return sup.Err()
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	if !a.sup.CompareAndSwap(nil, sup) {
		return fmt.Errorf("app already started")
	}
	run := sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.OnReject(func(err error) {
		a.bus.Publish(eventbus.Event{Type: eventbus.ConfigRejected, Time: a.clock.Now(), Data: err.Error()})
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		jr := journal{store: a.store, log: a.log.With(logx.Component("journal"))}
		sup.Go("journal", func(c context.Context) error {
			defer unsub()
			return jr.run(c, events)
		})
	}

	a.sched.Start(run)
	if period, err := a.notify.watchdogPeriod(); err != nil {
		a.log.Warn("systemd.watchdog_unavailable", logx.Err(err))
	} else if period > 0 {
		sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.notify.pingWatchdog(c, a.clock, period, a.workerHealth)
		})
	}
	if a.admin.Enabled() {
		a.admin.Start(run)
	}

	cfgs := a.cfgm.Subscribe(8)
	sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(cfgs)
		return a.reloadLoop(c, cfgs)
	})
	sup.Go("config.watch", a.cfgm.Watch)

	a.notify.ready()
	a.log.Info("app.started", logx.Int("pending", a.sched.Len()))
	return nil
}

// spawn runs fn on the app supervisor. Jobs only run after Start, so the
// supervisor is set whenever a batch fans out.
func (a *App) spawn(name string, fn func(ctx context.Context) error) {
	if sup := a.sup.Load(); sup != nil {
		sup.Go(name, fn)
	}
}

func (a *App) goroutines() supervisor.Snapshot {
	if sup := a.sup.Load(); sup != nil {
		return sup.Snapshot()
	}
	return supervisor.Snapshot{}
}

// workerHealth fails when the scheduler worker is gone or has been on one
// job for longer than any configured command may take.
func (a *App) workerHealth() error {
	if !a.sched.Running() {
		return errors.New("scheduler is not running")
	}
	budget := time.Duration(a.budget.Load())
	if budget <= 0 {
		return nil
	}
	if j, since, ok := a.sched.InFlight(); ok {
		if took := a.clock.Since(since); took > budget {
			return fmt.Errorf("job %s has run for %s, over the %s budget", j, took, budget)
		}
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, cfgs <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-cfgs:
			if !ok {
				return nil
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-cfgs:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig applies what can change live: logging, admin and the job set.
// Scheduler and storage changes need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config.reloaded", logx.String("changed", "none"))
		return
	}
	a.notify.reloading()
	defer a.notify.ready()

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	for _, s := range []string{"scheduler", "storage"} {
		if ch.Has(s) {
			a.log.Warn("config.restart_required", logx.String("section", s))
		}
	}
	if ch.Has("systemd") {
		a.log.Warn("config.restart_required", logx.String("section", "systemd"))
	}
	if ch.Has("admin") {
		a.admin.Reconfigure(ctx, mapAdminConfig(next))
	}
	if ch.Has("jobs") {
		a.budget.Store(int64(workerBudget(next)))
		if err := a.jobs.apply(next, ch.Jobs); err != nil {
			a.log.Error("config.jobs_partially_applied", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: a.clock.Now(), Data: ch.Sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config.reloaded", fields...)
}

// Stop shuts every component down in dependency order. Each step is bounded
// so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	sup := a.sup.Load()
	if sup == nil {
		return nil
	}
	a.log.Info("app.stopping", logx.String("reason", string(reason)))
	a.notify.stopping()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("app.stop_step_failed", logx.String("step", name), logx.Err(err))
			}
			a.log.Debug("app.stop_step_done", logx.String("step", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("app.stop_step_timeout", logx.String("step", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	// The scheduler goes first among the workers so no batch fans out
	// after the supervisor started waiting.
	step("scheduler", 5*time.Second, a.sched.Stop)
	step("supervisor", 5*time.Second, sup.Stop)
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("app.stopped", logx.String("reason", string(reason)), logx.Uint64("stderr_dropped", a.logs.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
