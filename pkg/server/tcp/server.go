// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xcvbn23/gateway/pkg/errors"
)

const (
	// DefaultBufferSize is the per-read buffer of one forwarding direction.
	DefaultBufferSize = 64 * 1024

	// DefaultBacklog is the listen queue length.
	DefaultBacklog = 1024

	maxAcceptDelay = time.Second
)

// Recorder receives the relay counters.
type Recorder interface {
	IncConnections()
	AddBytes(n int)
}

type noopRecorder struct{}

func (noopRecorder) IncConnections() {}
func (noopRecorder) AddBytes(int)    {}

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the upstream address every connection is relayed to (host:port)
	TargetAddress string

	// Backlog is the listen queue length. Only honoured on Linux.
	Backlog int

	// BufferSize bounds each read, and therefore the data in flight, per direction.
	BufferSize int

	// DialTimeout limits the upstream dial. Zero leaves it to the OS.
	DialTimeout time.Duration

	// OnBound runs once, synchronously, after the socket is bound and before
	// the first connection is accepted. An error aborts Listen.
	OnBound func(ctx context.Context, addr net.Addr) error

	// Metrics receives connection and byte counts.
	Metrics Recorder

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts connections and relays each one to a fixed upstream.
type Server struct {
	config     Config
	dialer     net.Dialer
	bufferPool sync.Pool

	serving atomic.Bool
	mu      sync.Mutex
	addr    net.Addr
	bound   chan struct{}
}

// New creates a new TCP server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}

	s := &Server{
		config: cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		bound:  make(chan struct{}),
	}
	s.bufferPool.New = func() any {
		buf := make([]byte, cfg.BufferSize)
		return &buf
	}

	return s
}

// Listen binds the listen address and serves until ctx is cancelled or the
// listener becomes unusable. A bind failure wraps errors.ErrBind.
// In-flight sessions are not drained on return.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := listen(ctx, s.config.Address, s.config.Backlog)
	if err != nil {
		return fmt.Errorf("%w on %s: %v", errors.ErrBind, s.config.Address, err)
	}
	defer listener.Close()

	if s.config.OnBound != nil {
		if err := s.config.OnBound(ctx, listener.Addr()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	close(s.bound)
	s.mu.Unlock()

	s.config.Logger.Info("proxying",
		slog.String("address", listener.Addr().String()),
		slog.String("target", s.config.TargetAddress))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("shutdown signal received, closing listener")
			listener.Close()
		case <-stop:
		}
	}()

	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	s.serving.Store(true)
	defer s.serving.Store(false)

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: %v", errors.ErrListenerClosed, err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.config.Logger.Error("failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		go s.handleConn(ctx, conn)
	}
}

// Addr returns the bound address, or nil before the socket is bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Bound is closed once the socket is bound and OnBound has succeeded.
func (s *Server) Bound() <-chan struct{} {
	return s.bound
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.serving.Load()
}
