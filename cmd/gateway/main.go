// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the gateway TCP relay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xcvbn23/gateway"
	"github.com/xcvbn23/gateway/pkg/health"
	"github.com/xcvbn23/gateway/pkg/metrics"
	"github.com/xcvbn23/gateway/pkg/privilege"
	"github.com/xcvbn23/gateway/pkg/server/tcp"
	"github.com/xcvbn23/gateway/pkg/supervisor"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env file is optional
	_ = godotenv.Load()

	cfg, err := gateway.NewConfig(env.Options{Prefix: gateway.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *gateway.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Transparent TCP relay",
		Long:          `Gateway accepts TCP connections and relays their bytes to a single fixed target.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
				return err
			}

			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
			if err := run(cmd.Context(), *cfg, logger); err != nil {
				logger.Error(fmt.Sprintf("gateway terminated with error: %s", err))
				return err
			}
			logger.Info("gateway stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddress, "listen-address", cfg.ListenAddress, "Address to listen on")
	flags.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "Port to listen on")
	flags.StringVar(&cfg.TargetAddress, "target-address", cfg.TargetAddress, "Target address to forward to")
	flags.IntVar(&cfg.TargetPort, "target-port", cfg.TargetPort, "Target port to forward to")
	flags.StringVar(&cfg.PushgatewayURL, "pushgateway-url", cfg.PushgatewayURL, "Prometheus pushgateway URL (e.g. http://localhost:9091)")
	flags.StringVar(&cfg.User, "user", cfg.User, "User to drop privileges to after binding (for ports < 1024)")
	flags.StringVar(&cfg.Group, "group", cfg.Group, "Group to drop privileges to after binding (for ports < 1024)")
	flags.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Bytes read per forwarding step")
	flags.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen queue length")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Upstream dial timeout (0 uses the OS default)")
	flags.StringVar(&cfg.MetricsAddress, "metrics-address", cfg.MetricsAddress, "Address to serve /metrics on (disabled when empty)")
	flags.BoolVar(&cfg.Watchdog, "watchdog", cfg.Watchdog, "Send periodic systemd WATCHDOG notifications")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")

	return cmd
}

func run(ctx context.Context, cfg gateway.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	id := privilege.Current()
	logger.Info("initialised",
		slog.String("user", id.User), slog.Int("uid", id.UID),
		slog.String("group", id.Group), slog.Int("gid", id.GID))

	m := metrics.New()
	checker := health.NewChecker(0)
	notifier := supervisor.New(logger, checker)
	privileges := privilege.New(logger)

	server := tcp.New(tcp.Config{
		Address:       cfg.Address(),
		TargetAddress: cfg.Target(),
		Backlog:       cfg.Backlog,
		BufferSize:    cfg.BufferSize,
		DialTimeout:   cfg.DialTimeout,
		Metrics:       m,
		Logger:        logger,
		OnBound: func(ctx context.Context, _ net.Addr) error {
			notifier.Ready()

			if privilege.Required(cfg.ListenPort, cfg.User, cfg.Group) {
				if err := privileges.Drop(cfg.User, cfg.Group); err != nil {
					return err
				}
			}

			if cfg.PushgatewayURL != "" {
				logger.Debug("starting pushgateway exporter", slog.String("url", cfg.PushgatewayURL))
				pusher := metrics.NewPusher(metrics.PusherConfig{URL: cfg.PushgatewayURL, Logger: logger}, m)
				g.Go(func() error {
					return pusher.Run(ctx)
				})
			}
			return nil
		},
	})

	g.Go(func() error {
		return server.Listen(ctx)
	})

	checker.Register("listener", func(context.Context) error {
		if !server.Serving() {
			return fmt.Errorf("listener is not accepting connections")
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddress, m, checker, logger)
		})
	}

	// Liveness pings are opt-in; readiness alone is sent by default.
	if cfg.Watchdog {
		interval := supervisor.WatchdogEnabled()
		g.Go(func() error {
			return notifier.Watchdog(ctx, interval)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// serveMetrics serves the Prometheus pull endpoint and the probes until ctx
// is cancelled.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
