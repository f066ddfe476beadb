// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/xcvbn23/gateway/pkg/errors"
)

const (
	// EnvPrefix is the prefix of every environment variable read by NewConfig.
	EnvPrefix = "GATEWAY_"

	// MaxBufferSize bounds the per-read buffer of a forwarding direction.
	MaxBufferSize = 10 * 1024 * 1024

	maxPort = 65535
)

// Config holds the relay configuration. It is loaded once at startup and
// never mutated afterwards.
type Config struct {
	ListenAddress  string `env:"LISTEN_ADDRESS"  envDefault:"127.0.0.1"`
	ListenPort     int    `env:"LISTEN_PORT"     envDefault:"8080"`
	TargetAddress  string `env:"TARGET_ADDRESS"  envDefault:"127.0.0.1"`
	TargetPort     int    `env:"TARGET_PORT"     envDefault:"80"`
	PushgatewayURL string `env:"PUSHGATEWAY_URL"`

	// User and Group are only applied when ListenPort is privileged.
	User  string `env:"USER_NAME"`
	Group string `env:"GROUP_NAME"`

	BufferSize int `env:"BUFFER_SIZE" envDefault:"65536"`
	Backlog    int `env:"BACKLOG"     envDefault:"1024"`

	DialTimeout    time.Duration `env:"DIAL_TIMEOUT"    envDefault:"0s"`
	MetricsAddress string        `env:"METRICS_ADDRESS"`
	Watchdog       bool          `env:"WATCHDOG_ENABLED" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"debug"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks ranges. It must be called before any socket is opened.
func (c Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > maxPort {
		return fmt.Errorf("%w: listen port %d must be in range 1-%d", errors.ErrInvalidConfig, c.ListenPort, maxPort)
	}
	if c.TargetPort <= 0 || c.TargetPort > maxPort {
		return fmt.Errorf("%w: target port %d must be in range 1-%d", errors.ErrInvalidConfig, c.TargetPort, maxPort)
	}
	if c.BufferSize <= 0 || c.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d must be in range 1-%d", errors.ErrInvalidConfig, c.BufferSize, MaxBufferSize)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("%w: backlog %d must be positive", errors.ErrInvalidConfig, c.Backlog)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial timeout %s must not be negative", errors.ErrInvalidConfig, c.DialTimeout)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q must be json or text", errors.ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// Address returns the listen host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.ListenPort))
}

// Target returns the upstream host:port.
func (c Config) Target() string {
	return net.JoinHostPort(c.TargetAddress, strconv.Itoa(c.TargetPort))
}
