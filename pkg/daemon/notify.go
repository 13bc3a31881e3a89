package daemon

import (
	"log/slog"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the collector is up. It is a no-op outside a
// Type=notify unit.
func NotifyReady(logger *slog.Logger) {
	notify(sddaemon.SdNotifyReady, logger)
}

// NotifyStopping tells systemd the collector is draining.
func NotifyStopping(logger *slog.Logger) {
	notify(sddaemon.SdNotifyStopping, logger)
}

// NotifyStatus publishes a free-form status line shown by systemctl status.
func NotifyStatus(status string, logger *slog.Logger) {
	notify("STATUS="+status, logger)
}

func notify(state string, logger *slog.Logger) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("sd_notify failed", "state", state, "err", err)
		return
	}
	if sent {
		logger.Debug("sd_notify sent", "state", state)
	}
}
