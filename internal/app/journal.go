package app

import (
	"context"
	"time"

	"jobsched/internal/eventbus"
	"jobsched/internal/storage"
	logx "jobsched/pkg/logx"
)

const journalWriteTimeout = 2 * time.Second

// journal copies finished runs from the bus into the store. Storage errors
// are logged and never reach the scheduler.
type journal struct {
	store storage.Store
	log   logx.Logger
}

func (jr journal) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != eventbus.JobFinished && e.Type != eventbus.JobFailed {
				continue
			}
			run, ok := e.Data.(eventbus.JobRun)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
			err := jr.store.AppendRun(wctx, recordOf(run))
			cancel()
			if err != nil {
				jr.log.Warn("journal.append_failed", logx.String("job", run.JobName), logx.Err(err))
			}
		}
	}
}

func recordOf(run eventbus.JobRun) storage.RunRecord {
	return storage.RunRecord{
		Scheduler:  run.Scheduler,
		JobID:      run.JobID,
		Job:        run.JobName,
		Due:        run.Due,
		Started:    run.Started,
		DurationMS: run.Duration.Milliseconds(),
		Error:      run.Err,
	}
}
