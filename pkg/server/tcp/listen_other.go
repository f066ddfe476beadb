// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package tcp

import (
	"context"
	"net"
)

// listen ignores backlog; the platform default applies.
func listen(ctx context.Context, address string, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}
