// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the duplex byte-copy engine at the heart of
// the proxy: given an accepted client stream (downstream) and an
// established backend stream (upstream), it shuttles opaque bytes in
// both directions until either side closes or fails.
//
// # Loop structure
//
// Each direction owns a reader goroutine with a fixed 1024-byte buffer
// and at most one outstanding read. The main loop consumes one completed
// read event per iteration, forwards the bytes to the peer stream,
// flushes when the stream buffers writes, and re-arms that direction's
// read. Writes always complete before the next iteration, so a stream
// never sees overlapping writes.
//
// # Termination
//
// A zero-length read (half-close) on either side ends the entire relay;
// the other direction is not drained. This mirrors the proxy's intended
// semantics: a one-sided shutdown tears down the whole exchange. Any
// read, write, or flush error likewise ends the relay with the error
// recorded on the close log.
//
// All four exit states funnel through a single deferred teardown that
// releases the active-connection tracker and emits the end-of-connection
// record, so the gauge is decremented exactly once per run no matter how
// the loop exits.
//
// The relay applies no timeouts and receives no cancellation signal; a
// stalled peer holds its relay until the owning server closes the
// underlying connections.
package relay
