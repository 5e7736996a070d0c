package scheduler

import "jobsched/internal/job"

func pendingInfo(key job.Key, j *job.Job) PendingJob {
	return PendingJob{
		ID:       key.ID,
		Name:     j.String(),
		Next:     key.Next,
		Interval: key.Interval,
		Offset:   key.Offset,
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Name:     s.name,
		Running:  s.running.Load(),
		Pending:  make([]PendingJob, 0, s.pending.len()),
		History:  make([]HistoryItem, 0, s.history.Length()),
		Runs:     s.runs,
		Failures: s.failures,
	}
	if s.executing != nil {
		p := pendingInfo(s.executing.Key(), s.executing)
		snap.Executing = &p
	}
	s.pending.ascend(func(e entry) bool {
		snap.Pending = append(snap.Pending, pendingInfo(e.key, e.j))
		return true
	})
	for i := 0; i < s.history.Length(); i++ {
		snap.History = append(snap.History, s.history.Get(i).(HistoryItem))
	}
	return snap
}
