package scheduler

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobsched/internal/eventbus"
	"jobsched/internal/job"
	logx "jobsched/pkg/logx"
)

// loop is the worker. Each pass re-reads the earliest pending job: any wake
// (timer, AddJob, RemoveJob) may have changed which job is first.
func (s *Scheduler) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		first, ok := s.pending.min()
		if !ok {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		delay := first.key.Next.Sub(s.clock.Now())
		if delay <= 0 {
			s.pending.remove(first.j)
			s.executing, s.execSince = first.j, s.clock.Now()
			n := s.pending.len()
			s.mu.Unlock()
			s.setPending(n)

			s.execute(ctx, first.j, first.key.Next)

			s.mu.Lock()
			if first.j.IsRepeating() && !s.retired {
				s.pending.insert(first.j)
			}
			s.executing, s.retired = nil, false
			n = s.pending.len()
			s.mu.Unlock()
			s.setPending(n)
			continue
		}
		s.mu.Unlock()

		t := s.clock.NewTimer(delay)
		select {
		case <-t.Chan():
		case <-s.wake:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
		t.Stop()
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job.Job, due time.Time) {
	started := s.clock.Now()
	run := eventbus.JobRun{
		Scheduler: s.name,
		JobID:     j.ID(),
		JobName:   j.String(),
		Due:       due,
		Started:   started,
		Repeating: j.IsRepeating(),
	}
	s.publish(eventbus.JobStarted, run)
	if s.metrics != nil {
		s.metrics.Runs.WithLabelValues(s.name).Inc()
		s.metrics.Lateness.WithLabelValues(s.name).Observe(started.Sub(due).Seconds())
	}

	spanCtx, span := s.tracer.Start(ctx, "scheduler.job.execute",
		trace.WithAttributes(
			attribute.String("scheduler.name", s.name),
			attribute.Int64("job.id", int64(j.ID())),
			attribute.String("job.name", j.String()),
			attribute.Bool("job.repeating", j.IsRepeating()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	err := j.PerformTask(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	run.Duration = s.clock.Since(started)
	if s.metrics != nil {
		s.metrics.Duration.WithLabelValues(s.name).Observe(run.Duration.Seconds())
	}

	item := HistoryItem{JobID: j.ID(), Name: j.String(), Due: due, Started: started, Duration: run.Duration}
	if err != nil {
		item.Error = err.Error()
		run.Err = item.Error
	}
	s.record(item, err != nil)

	if err == nil {
		s.publish(eventbus.JobFinished, run)
		s.log.Debug("job.finished", logx.Uint64("job_id", j.ID()), logx.String("job", j.String()), logx.Duration("took", run.Duration))
		return
	}

	if s.metrics != nil {
		s.metrics.Failures.WithLabelValues(s.name).Inc()
	}
	s.publish(eventbus.JobFailed, run)

	if job.IsFatal(err) {
		s.fatal(j, err)
		return
	}
	s.handle(j, err)
}

func (s *Scheduler) handle(j *job.Job, err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(j, err)
		return
	}
	fields := []logx.Field{logx.Uint64("job_id", j.ID()), logx.String("job", j.String()), logx.Err(err)}
	var pe *job.PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(pe.Stack))
	}
	if j.IsRepeating() {
		fields = append(fields, logx.Time("next", j.NextTime()))
	}
	s.log.Error("job.failed", fields...)
}

// fatal reports a catastrophic job error and terminates the process.
func (s *Scheduler) fatal(j *job.Job, err error) {
	fields := []logx.Field{
		logx.Uint64("job_id", j.ID()),
		logx.String("job", j.String()),
		logx.Err(err),
		logx.Int("pending", s.Len()),
	}
	var pe *job.PanicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(pe.Stack))
	}
	s.log.Error("scheduler.fatal", fields...)
	s.exit(1)
}

func (s *Scheduler) record(item HistoryItem, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if failed {
		s.failures++
	}
	s.history.Add(item)
	for s.history.Length() > s.historySize {
		s.history.Remove()
	}
}

func (s *Scheduler) publish(typ string, run eventbus.JobRun) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: run})
}
