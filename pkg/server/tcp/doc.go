// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the relay server for one proxy mapping.
//
// # Overview
//
// The server accepts client connections on the listen address, dials the
// fixed backend, and hands each pair of established streams to the relay
// engine. It is wholly protocol-agnostic: bytes are forwarded opaquely.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Backend │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │  Relay  │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Optional admission check (per-client rate limiter)
//  3. Server dials backend (through the circuit breaker when configured);
//     a failed dial means no relay is created and the active-connection
//     gauge is untouched
//  4. The connection is admitted: gauge incremented, ID drawn from the
//     shared ID manager, connection.Info built
//  5. relay.Run shuttles bytes until EOF or error and releases the gauge
//     exactly once on its exit funnel
//  6. Both connections closed
//
// # Graceful Shutdown
//
// When the context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing relays to finish (with timeout)
//  3. After ShutdownTimeout, returns ErrShutdownTimeout and abandons the
//     remainder; their sockets close with the process
//
// # Configuration
//
//   - Address: listen address (e.g., "0.0.0.0:8787")
//   - TargetAddress: backend address (e.g., "127.0.0.1:22")
//   - DialTimeout: per-dial bound (default: 10s)
//   - ShutdownTimeout: max wait for draining (default: 30s)
//   - Logger: structured logger
//   - Metrics, Limiter, Breaker: optional collaborators
//
// # Example
//
//	ids := idmanager.New(0, 0, logger)
//	cfg := tcp.Config{
//		Address:       "0.0.0.0:8787",
//		TargetAddress: "127.0.0.1:22",
//		Logger:        logger,
//	}
//
//	server := tcp.New(cfg, ids)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
