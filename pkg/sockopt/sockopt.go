// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sockopt applies keep-alive, latency and buffer options to relayed
// TCP sockets.
//
// Tuning is advisory. Connections that do not expose their file descriptor
// (anything that is not a syscall.Conn, e.g. net.Pipe) are left untouched.
package sockopt

import (
	"errors"
	"net"
	"syscall"
	"time"
)

const (
	// KeepAliveIdle is the idle time before the first keep-alive probe.
	KeepAliveIdle = 30 * time.Second

	// KeepAliveInterval is the time between unanswered probes.
	KeepAliveInterval = 5 * time.Second

	// KeepAliveCount is the number of unanswered probes before the peer is
	// considered dead.
	KeepAliveCount = 3

	// BufferSize is applied to both SO_RCVBUF and SO_SNDBUF.
	BufferSize = 1024 * 1024
)

// ErrNotTunable is returned by Tune for connections without socket access.
var ErrNotTunable = errors.New("connection does not expose socket options")

// Tunable is implemented by connections that expose their raw socket.
type Tunable interface {
	SyscallConn() (syscall.RawConn, error)
}

var _ Tunable = (*net.TCPConn)(nil)

// Tune applies all options to conn. Every option is attempted even if an
// earlier one fails; all failures are joined into the returned error.
func Tune(conn net.Conn) error {
	tc, ok := conn.(Tunable)
	if !ok {
		return ErrNotTunable
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}

	return apply(conn, raw)
}
