// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package pj

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: "PJTEST_"})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, 8081, cfg.HealthPort)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.RateLimitCapacity)
	assert.Equal(t, 5, cfg.BreakerMaxFailures)
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PJTEST_PROXY", "127.0.0.1:5000:127.0.0.1:6000")
	t.Setenv("PJTEST_PROXIES", "0.0.0.0:80:10.0.0.1:8080,0.0.0.0:443:10.0.0.1:8443")
	t.Setenv("PJTEST_LOG", "debug")
	t.Setenv("PJTEST_METRICS_PORT", "9999")
	t.Setenv("PJTEST_ID_RESET_COUNT", "100k")

	cfg, err := NewConfig(env.Options{Prefix: "PJTEST_"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.MetricsPort)
	assert.Equal(t, "100k", cfg.IDResetCount)

	mappings, err := cfg.Mappings()
	require.NoError(t, err)
	require.Len(t, mappings, 3)
	assert.Equal(t, "127.0.0.1:5000", mappings[0].ListenAddr)
	assert.Equal(t, "127.0.0.1:6000", mappings[0].ProxyAddr)
	assert.Equal(t, "0.0.0.0:80", mappings[1].ListenAddr)
	assert.Equal(t, "10.0.0.1:8443", mappings[2].ProxyAddr)
}

func TestConfig_MappingsEmpty(t *testing.T) {
	var cfg Config
	mappings, err := cfg.Mappings()
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestConfig_MappingsInvalid(t *testing.T) {
	cfg := Config{Proxy: "not-a-mapping"}
	_, err := cfg.Mappings()
	require.Error(t, err)

	cfg = Config{Proxies: []string{"127.0.0.1:1:2:3", "bad"}}
	_, err = cfg.Mappings()
	require.Error(t, err)
}
