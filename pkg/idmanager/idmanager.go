// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package idmanager allocates monotonically increasing connection IDs and
// recycles them under a count threshold, an elapsed-time interval, or both.
//
// A single Manager is shared by every listen/backend mapping in the
// process. IDs are unique between resets only; a connection that outlives
// a reset may share its ID with a newer connection in the logs, and the
// reset record (sequence number, trigger, issued count) is the
// disambiguator.
package idmanager

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager hands out connection IDs. The counter is atomic for the
// unconfigured fast path; when a reset policy is set, the reset decision
// is serialized under a mutex so no two calls can observe different
// decisions from the same counter value.
type Manager struct {
	counter atomic.Uint64

	mu            sync.Mutex
	lastResetTime time.Time
	resetSeq      uint64

	resetInterval  time.Duration // 0 disables the time trigger
	resetThreshold uint64        // 0 disables the count trigger

	logger  *slog.Logger
	onReset func(trigger string)
}

// New creates a Manager. resetInterval and resetThreshold of zero disable
// the respective trigger; with both zero the counter only ever increments.
func New(resetInterval time.Duration, resetThreshold uint64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		lastResetTime:  time.Now(),
		resetInterval:  resetInterval,
		resetThreshold: resetThreshold,
		logger:         logger,
	}
}

// OnReset registers a callback invoked once per reset with the trigger
// description. Used to feed the reset metric.
func (m *Manager) OnReset(fn func(trigger string)) {
	m.mu.Lock()
	m.onReset = fn
	m.mu.Unlock()
}

// NextID returns the next connection ID with fetch-and-increment
// semantics: the first call returns 0. The call that observes the counter
// at or past the threshold, or the interval elapsed, performs the reset
// and returns the post-reset first ID (0).
func (m *Manager) NextID() uint64 {
	if m.resetInterval == 0 && m.resetThreshold == 0 {
		return m.counter.Add(1) - 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.counter.Load(); m.shouldReset(c) {
		m.reset(c)
	}
	return m.counter.Add(1) - 1
}

// shouldReset evaluates both triggers against the pre-increment counter
// value. Caller holds mu.
func (m *Manager) shouldReset(current uint64) bool {
	if m.resetThreshold > 0 && current >= m.resetThreshold {
		return true
	}
	if m.resetInterval > 0 && time.Since(m.lastResetTime) >= m.resetInterval {
		return true
	}
	return false
}

// reset restarts the sequence at 0 and records the reset event. issued
// is the counter value, i.e. how many IDs went out since the last
// reset. Caller holds mu.
func (m *Manager) reset(issued uint64) {
	now := time.Now()
	elapsed := now.Sub(m.lastResetTime)
	m.resetSeq++

	byCount := m.resetThreshold > 0 && issued >= m.resetThreshold
	byTime := m.resetInterval > 0 && elapsed >= m.resetInterval
	var trigger string
	switch {
	case byCount && byTime:
		trigger = "count and time"
	case byCount:
		trigger = "count threshold reached"
	case byTime:
		trigger = "time interval elapsed"
	default:
		trigger = "unknown"
	}

	m.logger.Info("connection id reset",
		slog.Uint64("reset", m.resetSeq),
		slog.String("trigger", trigger),
		slog.Uint64("issued", issued),
		slog.String("elapsed", fmt.Sprintf("%.2fs", elapsed.Seconds())))

	if m.onReset != nil {
		m.onReset(trigger)
	}

	m.counter.Store(0)
	m.lastResetTime = now
}
