// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package supervisor reports readiness and liveness to systemd.
//
// Without a NOTIFY_SOCKET in the environment every notification is a no-op.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/xcvbn23/gateway/pkg/health"
)

// WatchdogInterval is the default liveness cadence.
const WatchdogInterval = 5 * time.Second

// Notifier sends sd_notify messages.
type Notifier struct {
	logger  *slog.Logger
	notify  func(state string) (bool, error)
	checker *health.Checker
	ready   sync.Once
}

// New creates a Notifier bound to the process NOTIFY_SOCKET. Liveness pings
// are gated on checker; a nil checker always passes.
func New(logger *slog.Logger, checker *health.Checker) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(0)
	}
	return &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		checker: checker,
	}
}

// Ready sends READY=1. Only the first call has an effect.
func (n *Notifier) Ready() {
	n.ready.Do(func() {
		sent, err := n.notify(daemon.SdNotifyReady)
		switch {
		case err != nil:
			n.logger.Error("failed to notify systemd READY", slog.String("error", err.Error()))
		case sent:
			n.logger.Debug("notified systemd READY")
		}
	})
}

// Watchdog sends WATCHDOG=1 every interval while the checker reports healthy,
// until ctx is cancelled. An unhealthy result skips that ping so systemd can
// restart the process.
func (n *Notifier) Watchdog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = WatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if status, checks := n.checker.Health(ctx); status != health.StatusHealthy {
				n.logger.Warn("skipping watchdog ping", slog.Any("checks", checks))
				continue
			}
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				n.logger.Error("failed to notify systemd WATCHDOG", slog.String("error", err.Error()))
			}
		}
	}
}

// WatchdogEnabled returns the interval systemd expects pings at, halved as
// recommended by sd_watchdog_enabled(3). Zero means no watchdog is set up.
func WatchdogEnabled() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}
