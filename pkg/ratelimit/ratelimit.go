// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-client connection admission control
// using the token bucket algorithm. It gates how fast one client may
// open new relayed connections; it never throttles bytes on an
// established relay.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when the admission rate is exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a bucket holding at most capacity tokens,
// refilled at refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token, reporting whether the connection may proceed.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Available returns the number of available tokens.
func (tb *TokenBucket) Available() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// refill adds tokens based on elapsed time. Caller holds mu.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	added := int64(elapsed * float64(tb.refillRate))
	if added > 0 {
		tb.tokens += added
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Limiter tracks one bucket per client address.
type Limiter struct {
	mu         sync.RWMutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
	maxClients int
	cleanup    *time.Timer
}

// NewLimiter creates an admission limiter with per-client buckets.
// maxClients bounds the tracked-client map; 0 uses a default.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	if maxClients == 0 {
		maxClients = 10000
	}
	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
	}
	l.cleanup = time.AfterFunc(5*time.Minute, l.prune)
	return l
}

// Allow reports whether a new connection from the given client address
// may be admitted.
func (l *Limiter) Allow(client string) bool {
	l.mu.RLock()
	tb, ok := l.buckets[client]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		tb, ok = l.buckets[client]
		if !ok {
			if len(l.buckets) >= l.maxClients {
				l.mu.Unlock()
				return false
			}
			tb = NewTokenBucket(l.capacity, l.refillRate)
			l.buckets[client] = tb
		}
		l.mu.Unlock()
	}

	return tb.Allow()
}

// Remove drops a client's bucket.
func (l *Limiter) Remove(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, client)
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// prune bounds the tracked-client map so idle clients do not accumulate.
func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > l.maxClients*2 {
		kept := make(map[string]*TokenBucket, l.maxClients)
		count := 0
		for k, v := range l.buckets {
			if count >= l.maxClients {
				break
			}
			kept[k] = v
			count++
		}
		l.buckets = kept
	}

	l.cleanup = time.AfterFunc(5*time.Minute, l.prune)
}

// Close stops the background pruning.
func (l *Limiter) Close() {
	if l.cleanup != nil {
		l.cleanup.Stop()
	}
}
