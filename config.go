// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package pj

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, loaded from the environment.
// All variables are read under the prefix passed to NewConfig
// (cmd/main.go uses "PJ_", so Proxy becomes PJ_PROXY and so on).
type Config struct {
	// Proxy is a single listen_ip:listen_port:backend_ip:backend_port mapping.
	Proxy string `env:"PROXY"`

	// Proxies is a comma-separated list of mappings, combined with Proxy.
	Proxies []string `env:"PROXIES" envSeparator:","`

	// LogLevel is the textual log level filter (debug, info, warn, error).
	LogLevel string `env:"LOG" envDefault:"info"`

	// LogFormat selects the slog handler (text or json).
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// IDResetInterval optionally resets the connection ID counter after an
	// elapsed time, e.g. "1d12h". Empty disables the time trigger.
	IDResetInterval string `env:"ID_RESET_INTERVAL"`

	// IDResetCount optionally resets the connection ID counter once it
	// reaches a count, e.g. "100k". Empty disables the count trigger.
	IDResetCount string `env:"ID_RESET_COUNT"`

	// MetricsPort serves Prometheus metrics. 0 disables the listener.
	MetricsPort int `env:"METRICS_PORT" envDefault:"9090"`

	// HealthPort serves health/readiness probes. 0 disables the listener.
	HealthPort int `env:"HEALTH_PORT" envDefault:"8081"`

	// DialTimeout bounds each backend dial attempt.
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`

	// ShutdownTimeout bounds connection draining during shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RateLimitCapacity and RateLimitRefill configure per-client connection
	// admission (token bucket per client IP). Capacity 0 disables limiting.
	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"0"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL" envDefault:"1"`

	// BreakerMaxFailures and BreakerResetTimeout configure the circuit
	// breaker guarding backend dials.
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"60s"`
}

// NewConfig reads the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Mappings parses and combines the Proxy and Proxies values. An empty
// result with a nil error means no mapping was configured at all.
func (c Config) Mappings() ([]ProxyMapping, error) {
	var mappings []ProxyMapping
	if c.Proxy != "" {
		m, err := ParseProxyMapping(c.Proxy)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	for _, s := range c.Proxies {
		if s == "" {
			continue
		}
		m, err := ParseProxyMapping(s)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}
