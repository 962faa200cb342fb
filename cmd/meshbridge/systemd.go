package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
)

// sdNotify sends a state line to systemd. Outside systemd it is a no-op.
func sdNotify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify failed", "state", state, "error", err)
	}
}

// runWatchdog pets the systemd watchdog at half its interval until ctx is
// done. It returns immediately when the unit has no WatchdogSec.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	logger.Info("systemd watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sdNotify(logger, daemon.SdNotifyWatchdog)
		}
	}
}

// connectionStatus renders a connection event as the unit's STATUS= line.
func connectionStatus(p mesh.ConnectionPayload) string {
	switch {
	case p.Connected:
		return fmt.Sprintf("connected to %s (fw %s)", p.DeviceName, p.FirmwareVersion)
	case p.Reconnecting:
		return fmt.Sprintf("reconnecting (%d/%d)", p.Attempt, p.MaxAttempts)
	case p.ReconnectFailed:
		return "disconnected: reconnect failed"
	case p.Error != "":
		return "disconnected: " + p.Error
	default:
		return "disconnected"
	}
}

// systemdStatus mirrors link state changes into the unit status.
func systemdStatus(logger *slog.Logger) mesh.Handler {
	return func(_ context.Context, ev mesh.Event) error {
		if p, ok := ev.Data.(mesh.ConnectionPayload); ok {
			sdNotify(logger, "STATUS="+connectionStatus(p))
		}
		return nil
	}
}
