// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package connection tracks per-connection identity and byte accounting
// for the relay, and owns the connection lifecycle log records.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Tracker is the active-connection gauge for one listen/backend mapping.
// It is constructed by the owning server and shared by reference with
// every relay run on that mapping.
type Tracker struct {
	active atomic.Int64
}

// NewTracker creates a tracker with a zero gauge.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Admit counts a new connection and returns the gauge including it.
func (t *Tracker) Admit() uint64 {
	return uint64(t.active.Add(1))
}

// Release removes a connection and returns the gauge after its removal.
// The relay calls this exactly once per run, on its single exit funnel.
func (t *Tracker) Release() uint64 {
	return uint64(t.active.Add(-1))
}

// Active returns the current gauge value.
func (t *Tracker) Active() uint64 {
	return uint64(t.active.Load())
}

// Stats accumulates byte counters for one relay run. It is owned
// exclusively by that run and never shared across connections.
type Stats struct {
	BytesSent     uint64 // backend -> client payload
	BytesReceived uint64 // client -> backend payload
}

// AddSent records bytes read from the backend and forwarded to the client.
func (s *Stats) AddSent(n int) {
	s.BytesSent += uint64(n)
}

// AddReceived records bytes read from the client and forwarded to the backend.
func (s *Stats) AddReceived(n int) {
	s.BytesReceived += uint64(n)
}

// Info is the immutable identity of one relayed connection.
type Info struct {
	ID            uint64
	ClientAddr    string
	ProxyAddr     string // listen side
	BackendAddr   string // destination side
	StartTime     time.Time
	ActiveAtStart uint64
}

// NewInfo builds the connection identity record. activeAtStart is the
// gauge value including this connection, sampled at admission.
func NewInfo(id uint64, clientAddr, proxyAddr, backendAddr string, activeAtStart uint64) *Info {
	return &Info{
		ID:            id,
		ClientAddr:    clientAddr,
		ProxyAddr:     proxyAddr,
		BackendAddr:   backendAddr,
		StartTime:     time.Now(),
		ActiveAtStart: activeAtStart,
	}
}

// Elapsed returns the wall time since the connection was admitted.
func (i *Info) Elapsed() time.Duration {
	return time.Since(i.StartTime)
}

// LogStart emits the connection establishment record. It runs before any
// relay I/O.
func (i *Info) LogStart(logger *slog.Logger) {
	logger.Info("connection established",
		slog.Uint64("conn", i.ID),
		slog.Uint64("active", i.ActiveAtStart),
		slog.String("client", i.ClientAddr),
		slog.String("listen", i.ProxyAddr),
		slog.String("backend", i.BackendAddr))
}

// LogEnd emits the connection termination record with the accumulated
// stats. remaining is the gauge after this connection's removal; err is
// nil for a graceful half-close.
func (i *Info) LogEnd(logger *slog.Logger, stats *Stats, err error, remaining uint64) {
	status := "close"
	if err != nil {
		status = "fail"
	}
	attrs := []slog.Attr{
		slog.Uint64("conn", i.ID),
		slog.String("status", status),
		slog.Uint64("active", remaining),
		slog.String("duration", fmt.Sprintf("%.2fs", i.Elapsed().Seconds())),
		slog.String("sent", FormatBytes(stats.BytesSent)),
		slog.String("received", FormatBytes(stats.BytesReceived)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "connection closed", attrs...)
}
