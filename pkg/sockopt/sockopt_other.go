// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package sockopt

import (
	"errors"
	"net"
	"syscall"
)

// apply falls back to the portable net.TCPConn setters where the raw
// TCP_KEEP* option names differ between platforms.
func apply(conn net.Conn, _ syscall.RawConn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return ErrNotTunable
	}
	return errors.Join(
		tc.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     KeepAliveIdle,
			Interval: KeepAliveInterval,
			Count:    KeepAliveCount,
		}),
		tc.SetNoDelay(true),
		tc.SetReadBuffer(BufferSize),
		tc.SetWriteBuffer(BufferSize),
	)
}
