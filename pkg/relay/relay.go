// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"io"
	"log/slog"

	"github.com/Yvictor/pj/pkg/connection"
	"github.com/Yvictor/pj/pkg/metrics"
)

// DefaultBufferSize is the per-direction read buffer size.
const DefaultBufferSize = 1024

// Flusher is implemented by streams that buffer writes. net.Conn writes
// are unbuffered, so for plain sockets a completed Write is the flush.
type Flusher interface {
	Flush() error
}

// direction identifies which stream a read event came from.
type direction int

const (
	downstreamDir direction = iota // client side
	upstreamDir                    // backend side
)

func (d direction) String() string {
	if d == downstreamDir {
		return "downstream"
	}
	return "upstream"
}

// readEvent is one completed read. err is io.EOF for a half-close and
// any other non-nil value for a read failure; n is only meaningful when
// err is nil.
type readEvent struct {
	dir direction
	n   int
	err error
}

// Config holds the relay engine configuration.
type Config struct {
	// Logger for connection lifecycle records
	Logger *slog.Logger

	// Tracker is the active-connection gauge for this mapping. Required.
	Tracker *connection.Tracker

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics

	// BufferSize overrides the per-direction read buffer size.
	BufferSize int
}

// Relay is the duplex copy engine for one listen/backend mapping. One
// Run executes per relayed connection; the Relay itself is stateless
// apart from its shared collaborators and is safe for concurrent Runs.
type Relay struct {
	logger  *slog.Logger
	tracker *connection.Tracker
	metrics *metrics.Metrics
	bufSize int
}

// New creates a relay engine.
func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Relay{
		logger:  cfg.Logger,
		tracker: cfg.Tracker,
		metrics: cfg.Metrics,
		bufSize: cfg.BufferSize,
	}
}

// Run shuttles bytes between the downstream (client) and upstream
// (backend) streams until either side half-closes or fails. The caller
// has already admitted the connection on the tracker; Run releases it
// exactly once, on its single exit funnel, whichever of the four exit
// states (downstream EOF, upstream EOF, downstream error, upstream
// error) ends the loop.
//
// Run blocks until the relay ends. It never panics and never retries.
func (r *Relay) Run(downstream, upstream io.ReadWriter, info *connection.Info) {
	stats := &connection.Stats{}
	info.LogStart(r.logger)

	var runErr error
	defer func() {
		remaining := r.tracker.Release()
		info.LogEnd(r.logger, stats, runErr, remaining)
		if r.metrics != nil {
			r.metrics.ConnClosed(info.ProxyAddr, runErr != nil,
				info.Elapsed().Seconds(), stats.BytesSent, stats.BytesReceived)
		}
	}()

	downBuf := make([]byte, r.bufSize)
	upBuf := make([]byte, r.bufSize)

	events := make(chan readEvent)
	done := make(chan struct{})
	defer close(done)

	resumeDown := startReader(downstream, downstreamDir, downBuf, events, done)
	resumeUp := startReader(upstream, upstreamDir, upBuf, events, done)

	for {
		ev := <-events
		switch {
		case ev.err == io.EOF:
			r.logger.Debug("session closing",
				slog.Uint64("conn", info.ID),
				slog.String("side", ev.dir.String()))
			return

		case ev.err != nil:
			r.logger.Warn("read failed",
				slog.Uint64("conn", info.ID),
				slog.String("side", ev.dir.String()),
				slog.String("error", ev.err.Error()))
			runErr = ev.err
			return

		case ev.dir == downstreamDir:
			stats.AddReceived(ev.n)
			if err := writeAndFlush(upstream, downBuf[:ev.n]); err != nil {
				r.logger.Warn("upstream write failed",
					slog.Uint64("conn", info.ID),
					slog.String("error", err.Error()))
				runErr = err
				return
			}
			resumeDown <- struct{}{}

		default: // upstream read
			stats.AddSent(ev.n)
			if err := writeAndFlush(downstream, upBuf[:ev.n]); err != nil {
				r.logger.Warn("downstream write failed",
					slog.Uint64("conn", info.ID),
					slog.String("error", err.Error()))
				runErr = err
				return
			}
			resumeUp <- struct{}{}
		}
	}
}

// startReader races one pending read for its direction. After delivering
// a data event it waits for the loop to finish forwarding before reading
// again, so at most one event per direction is in flight and the shared
// buffer is never overwritten while the loop still references it.
func startReader(s io.Reader, dir direction, buf []byte, events chan<- readEvent, done <-chan struct{}) chan<- struct{} {
	resume := make(chan struct{})
	go func() {
		for {
			n, err := s.Read(buf)
			if n > 0 {
				select {
				case events <- readEvent{dir: dir, n: n}:
				case <-done:
					return
				}
				select {
				case <-resume:
				case <-done:
					return
				}
				if err == nil {
					continue
				}
				// fall through to deliver the deferred error
			}
			if err == nil {
				// Read returning (0, nil) is allowed; try again.
				continue
			}
			select {
			case events <- readEvent{dir: dir, err: err}:
			case <-done:
			}
			return
		}
	}()
	return resume
}

func writeAndFlush(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return err
	}
	if f, ok := w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
