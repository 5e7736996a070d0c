package app

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/completer"
	logx "jobsched/pkg/logx"
)

// batch fans a set of commands out on every trigger and runs its completion
// job once all of them returned.
//
// Each trigger starts a completer epoch. Task keys carry the epoch number so
// a command still running from an earlier epoch cannot complete a key of the
// current one; its late CompleteTask is reported as misuse instead.
type batch struct {
	name  string
	keys  []string
	cmds  map[string]command
	log   logx.Logger
	clock clockwork.Clock

	done  *completer.Completer
	spawn func(name string, fn func(ctx context.Context) error)
	epoch atomic.Uint64
}

func newBatch(name string, cmds map[string]command, clock clockwork.Clock, log logx.Logger, spawn func(string, func(context.Context) error)) *batch {
	keys := make([]string, 0, len(cmds))
	for k := range cmds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &batch{name: name, keys: keys, cmds: cmds, clock: clock, log: log, spawn: spawn}
}

// trigger is the body of the batch's scheduled job. It returns once every
// command has been started; the commands run on their own goroutines.
func (b *batch) trigger(context.Context) error {
	n := b.epoch.Add(1)
	b.done.Reset(b.clock.Now())

	started := make([]string, 0, len(b.keys))
	for _, k := range b.keys {
		key := fmt.Sprintf("%s#%d", k, n)
		if b.done.BeginTask(key) {
			started = append(started, k)
		}
	}
	for _, k := range started {
		k, key, cmd := k, fmt.Sprintf("%s#%d", k, n), b.cmds[k]
		b.spawn("batch."+b.name+"."+k, func(ctx context.Context) error {
			if err := cmd.run(ctx, b.log); err != nil {
				b.log.Warn("batch.command_failed", logx.String("key", k), logx.Uint64("epoch", n), logx.Err(err))
			}
			b.done.CompleteTask(key)
			// Failures are logged above; the supervisor must not cancel the daemon.
			return nil
		})
	}
	b.done.MakeReady()
	b.log.Debug("batch.triggered", logx.Uint64("epoch", n), logx.Int("commands", len(started)))
	return nil
}
