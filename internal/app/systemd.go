package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gpbackup/internal/backup"
	"gpbackup/internal/eventbus"
	logx "gpbackup/pkg/logx"
)

// sdNotifier talks to the service manager. Outside systemd every call is a
// no-op (SdNotify reports false with no error).
type sdNotifier struct {
	log      logx.Logger
	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{log: log, notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *sdNotifier) Status(line string) { n.send("STATUS=" + line) }

// WatchdogInterval is half of WATCHDOG_USEC, or 0 when the watchdog is off.
func (n *sdNotifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog(false)
	if err != nil {
		n.log.Warn("invalid watchdog settings", logx.Err(err))
		return 0
	}
	return d / 2
}

// RunWatchdog pings until ctx is done.
func (n *sdNotifier) RunWatchdog(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// RunStatus mirrors orchestrator progress into STATUS=.
func (n *sdNotifier) RunStatus(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(32, backup.EventState, backup.EventCycle)
	defer unsub()
	var (
		cur  backup.StateEvent
		last *backup.Report
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			switch d := ev.Data.(type) {
			case backup.StateEvent:
				cur = d
			case backup.Report:
				r := d
				last = &r
			default:
				continue
			}
			n.Status(statusLine(cur, last))
		}
	}
}

func statusLine(cur backup.StateEvent, last *backup.Report) string {
	s := cur.State.String()
	if !cur.Until.IsZero() {
		s += " until " + cur.Until.Format("15:04:05")
	}
	if last != nil && last.Outcome != "" {
		s += fmt.Sprintf("; last cycle %s", last.Outcome)
		if !last.NextAt.IsZero() {
			s += ", next " + last.NextAt.Format("2006-01-02 15:04")
		}
	}
	return s
}
