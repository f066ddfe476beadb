// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package tcp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listen builds the socket by hand because net.Listen always uses the
// kernel's somaxconn as backlog.
func listen(ctx context.Context, address string, backlog int) (net.Listener, error) {
	port, err := portOf(address)
	if err != nil {
		return nil, err
	}

	host := hostOf(address)
	if host == "" {
		// Wildcard: dual-stack where IPv6 exists, IPv4 only otherwise.
		ln, err := bindListen(address, netip.IPv6Unspecified(), port, backlog)
		if err == nil {
			return ln, nil
		}
		return bindListen(address, netip.IPv4Unspecified(), port, backlog)
	}

	ip, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return bindListen(address, ip, port, backlog)
}

// resolve returns the address to bind for host. Literals keep their IPv6
// zone; names prefer IPv4 the way net.Listen does for localhost.
func resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("no address for %s", host)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap(), nil
		}
	}
	return addrs[0].Unmap(), nil
}

func bindListen(address string, ip netip.Addr, port, backlog int) (net.Listener, error) {
	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip.Is4() {
		domain = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: port, Addr: ip.As4()}
	} else {
		zone, err := zoneIndex(ip.Zone())
		if err != nil {
			return nil, err
		}
		domain = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, ZoneId: zone, Addr: ip.As16()}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if ip == netip.IPv6Unspecified() {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "tcp:"+address)
	defer f.Close()

	// FileListener dups the descriptor, so f can be closed right away.
	return net.FileListener(f)
}

// zoneIndex maps an IPv6 zone (interface name or index) to its index.
func zoneIndex(zone string) (uint32, error) {
	if zone == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, err
	}
	return uint32(ifi.Index), nil
}
