// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the pj relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus series for the relay. Vec labels use the
// listen address so multiple mappings in one process stay separable.
type Metrics struct {
	// Connection metrics
	ActiveConnections  *prometheus.GaugeVec
	ConnectionsTotal   *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	ConnectionDuration *prometheus.HistogramVec
	BytesTransferred   *prometheus.CounterVec

	// Backend metrics
	BackendDialErrors *prometheus.CounterVec

	// ID manager metrics
	IDResets *prometheus.CounterVec

	// Admission metrics
	RateLimitedConnections *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Resource metrics
	GoroutinesActive prometheus.Gauge
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates a Metrics instance with all counters, gauges, and histograms.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pj"
	}

	m := &Metrics{
		ActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently relayed connections",
			},
			[]string{"listener"},
		),
		ConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of relayed connections by final status",
			},
			[]string{"listener", "status"},
		),
		ConnectionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of relay I/O failures",
			},
			[]string{"listener"},
		),
		ConnectionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Relayed connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"listener"},
		),
		BytesTransferred: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Bytes relayed per direction (sent: backend->client, received: client->backend)",
			},
			[]string{"listener", "direction"},
		),
		BackendDialErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_dial_errors_total",
				Help:      "Total number of failed backend dials",
			},
			[]string{"backend"},
		),
		IDResets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "id_resets_total",
				Help:      "Total number of connection ID counter resets",
			},
			[]string{"trigger"},
		),
		RateLimitedConnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Total number of connections rejected by admission control",
			},
			[]string{"listener"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Backend dial circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"backend"},
		),
		GoroutinesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines_active",
				Help:      "Number of active goroutines",
			},
		),
		MemoryAllocated: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_allocated_bytes",
				Help:      "Memory allocated in bytes",
			},
			[]string{"type"},
		),
	}

	return m
}

// ConnOpened tracks an admitted connection.
func (m *Metrics) ConnOpened(listener string) {
	m.ActiveConnections.WithLabelValues(listener).Inc()
}

// ConnClosed tracks a terminated connection with its final accounting.
func (m *Metrics) ConnClosed(listener string, failed bool, seconds float64, sent, received uint64) {
	m.ActiveConnections.WithLabelValues(listener).Dec()
	status := "close"
	if failed {
		status = "fail"
		m.ConnectionErrors.WithLabelValues(listener).Inc()
	}
	m.ConnectionsTotal.WithLabelValues(listener, status).Inc()
	m.ConnectionDuration.WithLabelValues(listener).Observe(seconds)
	m.BytesTransferred.WithLabelValues(listener, "sent").Add(float64(sent))
	m.BytesTransferred.WithLabelValues(listener, "received").Add(float64(received))
}
