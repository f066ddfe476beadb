// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/xcvbn23/gateway/pkg/errors"
	"github.com/xcvbn23/gateway/pkg/sockopt"
)

// Direction of a forwarding loop within a session.
type Direction int

const (
	// Upstream carries bytes from the client to the target.
	Upstream Direction = iota

	// Downstream carries bytes from the target to the client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// session owns the two connections of one relayed client.
type session struct {
	id       string
	remote   string
	client   net.Conn
	upstream net.Conn

	clientOnce   sync.Once
	upstreamOnce sync.Once
}

// close releases both connections. Safe to call more than once.
func (sess *session) close() {
	sess.clientOnce.Do(func() { sess.client.Close() })
	if sess.upstream != nil {
		sess.upstreamOnce.Do(func() { sess.upstream.Close() })
	}
}

type closeWriter interface {
	CloseWrite() error
}

// handleConn relays one accepted connection. All errors are logged here and
// never reach the accept loop.
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) {
	s.config.Metrics.IncConnections()

	sess := &session{
		id:     uuid.New().String(),
		remote: inbound.RemoteAddr().String(),
		client: inbound,
	}
	defer sess.close()

	logger := s.config.Logger.With(
		slog.String("session", sess.id),
		slog.String("client", sess.remote))
	logger.Debug("accepted connection")

	outbound, err := s.dial(ctx, sess)
	if err != nil {
		logger.Error("upstream dial failed",
			slog.String("target", s.config.TargetAddress),
			slog.String("error", err.Error()))
		return
	}
	sess.upstream = outbound

	// Tuning is advisory; a failure never affects the session.
	_ = sockopt.Tune(inbound)
	_ = sockopt.Tune(outbound)

	logger.Debug("connection established", slog.String("target", s.config.TargetAddress))

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.forward(sess, Upstream, inbound, outbound)
	}()
	go func() {
		errCh <- s.forward(sess, Downstream, outbound, inbound)
	}()

	// Neither direction preempts the other.
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			logger.Error("error forwarding data", slog.String("error", err.Error()))
		}
	}

	logger.Debug("connection closed")
}

// dial connects to the target once. Failures wrap errors.ErrDial.
func (s *Server) dial(ctx context.Context, sess *session) (net.Conn, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.config.TargetAddress)
	if err != nil {
		return nil, errors.New("dial", "", sess.id, sess.remote, fmt.Errorf("%w %s: %v", errors.ErrDial, s.config.TargetAddress, err))
	}
	return conn, nil
}

// forward runs one direction to completion, then half-closes dst so its
// peer sees EOF while the opposite direction keeps running.
func (s *Server) forward(sess *session, dir Direction, src, dst net.Conn) error {
	bufPtr := s.bufferPool.Get().(*[]byte)
	defer s.bufferPool.Put(bufPtr)

	err := pump(src, dst, *bufPtr, s.config.Metrics.AddBytes)

	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
	}

	return errors.New("forward", dir.String(), sess.id, sess.remote, err)
}

// pump copies src to dst one buffer at a time. The next read is issued only
// after the previous write has returned, so at most len(buf) bytes are in
// flight. count is called with every successful read size. EOF ends the
// loop cleanly.
func pump(src io.Reader, dst io.Writer, buf []byte, count func(int)) error {
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			count(nr)
			nw, werr := dst.Write(buf[:nr])
			if werr != nil {
				return werr
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}
