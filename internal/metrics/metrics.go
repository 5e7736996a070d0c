// Package metrics holds the prometheus collectors of the scheduler and the
// completer. Collectors are registered on an explicit registry so tests and
// multiple schedulers in one process do not collide on the default one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jobsched"

// Scheduler collectors, labelled by scheduler name.
type Scheduler struct {
	Runs     *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Pending  *prometheus.GaugeVec
	Duration *prometheus.HistogramVec
	Lateness *prometheus.HistogramVec
}

// Completer collectors, labelled by completer name.
type Completer struct {
	Fired       *prometheus.CounterVec
	Forced      *prometheus.CounterVec
	Misuse      *prometheus.CounterVec
	Outstanding *prometheus.GaugeVec
}

// Set bundles every collector of the process.
type Set struct {
	Registry  *prometheus.Registry
	Scheduler *Scheduler
	Completer *Completer
}

// New creates a fresh registry with the Go and process collectors plus the
// scheduler and completer collectors.
func New() *Set {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Set{
		Registry:  reg,
		Scheduler: NewScheduler(reg),
		Completer: NewCompleter(reg),
	}
}

func NewScheduler(reg prometheus.Registerer) *Scheduler {
	f := promauto.With(reg)
	return &Scheduler{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Job executions started by the scheduler worker.",
		}, []string{"scheduler"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Job executions that returned an error or panicked.",
		}, []string{"scheduler"}),
		Pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pending_jobs",
			Help:      "Jobs waiting in the pending set.",
		}, []string{"scheduler"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one job execution.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"scheduler"}),
		Lateness: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "start_lateness_seconds",
			Help:      "Delay between a job's due time and the start of its execution.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"scheduler"}),
	}
}

func NewCompleter(reg prometheus.Registerer) *Completer {
	f := promauto.With(reg)
	return &Completer{
		Fired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completer",
			Name:      "fired_total",
			Help:      "Completion jobs submitted after all tasks finished.",
		}, []string{"completer"}),
		Forced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completer",
			Name:      "forced_total",
			Help:      "Stale epochs force-completed by Reset.",
		}, []string{"completer"}),
		Misuse: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completer",
			Name:      "misuse_total",
			Help:      "Rejected BeginTask, CompleteTask or MakeReady calls.",
		}, []string{"completer", "op"}),
		Outstanding: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "completer",
			Name:      "outstanding_tasks",
			Help:      "Tasks begun but not completed in the current epoch.",
		}, []string{"completer"}),
	}
}
