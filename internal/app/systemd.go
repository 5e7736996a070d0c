package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	logx "jobsched/pkg/logx"
)

// notifier talks to the service manager. Every call is a no-op when the
// daemon was not started by systemd (no NOTIFY_SOCKET).
type notifier struct {
	enabled bool
	log     logx.Logger
	// notify is daemon.SdNotify, replaceable in tests.
	notify func(unsetEnv bool, state string) (bool, error)
	// watchdog is daemon.SdWatchdogEnabled, replaceable in tests.
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func newNotifier(enabled bool, log logx.Logger) *notifier {
	return &notifier{enabled: enabled, log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

func (n *notifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.notify(false, state)
	switch {
	case err != nil:
		n.log.Warn("systemd.notify_failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("systemd.notified", logx.String("state", state))
	}
}

func (n *notifier) ready()     { n.send(daemon.SdNotifyReady) }
func (n *notifier) stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *notifier) reloading() { n.send(daemon.SdNotifyReloading) }

// watchdogPeriod returns how often to ping: half of the unit's WatchdogSec,
// at least a second. Zero means no watchdog is configured.
func (n *notifier) watchdogPeriod() (time.Duration, error) {
	if !n.enabled {
		return 0, nil
	}
	timeout, err := n.watchdog(false)
	if err != nil || timeout <= 0 {
		return 0, err
	}
	period := max(timeout/2, time.Second)
	n.log.Info("systemd.watchdog_enabled", logx.Duration("timeout", timeout), logx.Duration("period", period))
	return period, nil
}

// pingWatchdog sends WATCHDOG=1 every period while healthy returns nil. It
// runs beside the scheduler worker, so a long job does not starve the pings;
// healthy decides when the worker counts as stuck, and then the pings stop
// and systemd restarts the daemon.
func (n *notifier) pingWatchdog(ctx context.Context, clk clockwork.Clock, period time.Duration, healthy func() error) error {
	tick := clk.NewTicker(period)
	defer tick.Stop()
	withheld := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.Chan():
		}
		if err := healthy(); err != nil {
			if !withheld {
				n.log.Error("systemd.watchdog_withheld", logx.Err(err))
			}
			withheld = true
			continue
		}
		withheld = false
		n.send(daemon.SdNotifyWatchdog)
	}
}
