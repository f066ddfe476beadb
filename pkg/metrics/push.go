// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	// JobName labels every push to the gateway.
	JobName = "tcp_proxy"

	// PushInterval is the default export cadence.
	PushInterval = 60 * time.Second
)

// PusherConfig holds the exporter configuration.
type PusherConfig struct {
	// URL of the Prometheus pushgateway, e.g. http://localhost:9091
	URL string

	// Interval between pushes. Defaults to PushInterval.
	Interval time.Duration

	Logger *slog.Logger
}

// Pusher periodically exports the counters to a pushgateway.
type Pusher struct {
	config PusherConfig
	pusher *push.Pusher
}

// NewPusher creates an exporter for m.
func NewPusher(cfg PusherConfig, m *Metrics) *Pusher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = PushInterval
	}

	return &Pusher{
		config: cfg,
		pusher: push.New(cfg.URL, JobName).Gatherer(m.Registry()),
	}
}

// Run pushes once per interval until ctx is cancelled. Failed pushes are
// logged and retried on the next tick; Run itself never fails.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Push(ctx); err != nil {
				p.config.Logger.Error("failed to push metrics",
					slog.String("url", p.config.URL),
					slog.String("error", err.Error()))
				continue
			}
			p.config.Logger.Debug("pushed metrics to pushgateway", slog.String("url", p.config.URL))
		}
	}
}

// Push performs a single export.
func (p *Pusher) Push(ctx context.Context) error {
	return p.pusher.PushContext(ctx)
}
