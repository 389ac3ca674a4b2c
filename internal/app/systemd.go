package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"skyback/internal/config"
	"skyback/pkg/logx"
)

// systemdNotifier speaks sd_notify. Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
type systemdNotifier struct {
	notify   bool
	watchdog bool
	log      logx.Logger
}

func newSystemdNotifier(cfg config.SystemdConfig, log logx.Logger) *systemdNotifier {
	return &systemdNotifier{
		notify:   cfg.Notify,
		watchdog: cfg.Watchdog,
		log:      log.With(logx.String("comp", "systemd")),
	}
}

func (n *systemdNotifier) send(state string) {
	if n == nil || !n.notify {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *systemdNotifier) ready()     { n.send(daemon.SdNotifyReady) }
func (n *systemdNotifier) stopping()  { n.send(daemon.SdNotifyStopping) }
func (n *systemdNotifier) reloading() { n.send(daemon.SdNotifyReloading) }

// runWatchdog pings at half the WatchdogSec interval until ctx is done.
func (n *systemdNotifier) runWatchdog(ctx context.Context) {
	if n == nil || !n.notify || !n.watchdog {
		return
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	interval := max(every/2, 100*time.Millisecond)
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
