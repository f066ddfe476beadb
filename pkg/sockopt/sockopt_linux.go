// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sockopt

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func apply(_ net.Conn, raw syscall.RawConn) error {
	var optErr error
	err := raw.Control(func(fd uintptr) {
		s := int(fd)
		optErr = errors.Join(
			unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1),
			unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(KeepAliveIdle.Seconds())),
			unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(KeepAliveInterval.Seconds())),
			unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, KeepAliveCount),
			unix.SetsockoptInt(s, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1),
			unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_RCVBUF, BufferSize),
			unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_SNDBUF, BufferSize),
		)
	})
	if err != nil {
		return err
	}
	return optErr
}
