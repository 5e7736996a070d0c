// Package job describes units of deferred or periodic work for a Scheduler.
//
// A Job carries its own due-time algebra:
//   - one-shot jobs are due once, after an explicit delay
//   - repeating jobs are due on calendar-aligned boundaries ("every 1 day at
//     0 hours"), computed in the Factory's location so local wall-clock
//     schedules survive daylight-saving transitions
//   - cron jobs take their occurrences from a cron expression
//
// Jobs are created through a Factory, which owns the id counter used as the
// final ordering tie-break and the clock every due-time computation reads.
package job
