// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the transparent TCP relay of the gateway.
//
// # Overview
//
// The server accepts connections on one address and relays every byte of
// each connection to a single fixed target. It has no knowledge of the
// relayed protocol.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Target  │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Metrics │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Server binds the listen address with the configured backlog
//  2. Config.OnBound runs once (readiness, privilege drop, exporters)
//  3. Server accepts a connection and counts it
//  4. Server dials the target; on failure the client is closed
//  5. Both sockets are tuned (keep-alive, TCP_NODELAY, 1 MiB buffers)
//  6. Server spawns two goroutines:
//     - Upstream: Client → Target
//     - Downstream: Target → Client
//  7. When a direction ends its destination is half-closed
//  8. When both have ended both connections are closed
//
// # Backpressure
//
// Each direction reads at most BufferSize bytes and writes them fully before
// reading again, so a slow reader on one side throttles the other side and
// memory stays bounded to one buffer per direction. Buffers come from a
// sync.Pool shared by all sessions.
//
// # Shutdown
//
// Cancelling the context passed to Listen closes the listener. Sessions in
// flight are not drained; they end with the process.
//
// # Error Handling
//
//   - Bind errors: returned from Listen wrapping errors.ErrBind
//   - OnBound errors: returned from Listen unchanged
//   - Accept errors: logged and retried with backoff, unless the listener is closed
//   - Dial errors: logged and client connection closed
//   - Forwarding errors: logged with the direction, connection closed
//
// # Example
//
//	cfg := tcp.Config{
//		Address:       "127.0.0.1:8080",
//		TargetAddress: "127.0.0.1:80",
//		BufferSize:    64 * 1024,
//		Metrics:       metrics.New(),
//	}
//
//	server := tcp.New(cfg)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
