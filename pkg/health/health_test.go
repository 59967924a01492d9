// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Errorf("Expected healthy, got %v", status)
	}
	if len(checks) != 1 || checks[0].Status != StatusHealthy {
		t.Errorf("Unexpected checks: %+v", checks)
	}
}

func TestChecker_DegradedOnFailure(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })
	c.Register("broken", func(ctx context.Context) error { return errors.New("backend down") })

	status, checks := c.Health(context.Background())
	if status != StatusDegraded {
		t.Errorf("Expected degraded, got %v", status)
	}
	if len(checks) != 2 {
		t.Fatalf("Expected 2 checks, got %d", len(checks))
	}
}

func TestChecker_CachesResults(t *testing.T) {
	calls := 0
	c := NewChecker(time.Minute)
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	if calls != 1 {
		t.Errorf("Expected 1 invocation within the cache TTL, got %d", calls)
	}
}

func TestHTTPHandler_DegradedStillServing(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("broken", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Degraded health endpoint should return 200, got %d", rec.Code)
	}
}

func TestReadinessHandler_DegradedNotReady(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("broken", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Degraded readiness should return 503, got %d", rec.Code)
	}
}

func TestBackendCheck(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start backend: %v", err)
	}
	defer l.Close()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	check := BackendCheck(l.Addr().String(), time.Second)
	if err := check(context.Background()); err != nil {
		t.Errorf("Expected reachable backend, got %v", err)
	}

	addr := l.Addr().String()
	l.Close()
	check = BackendCheck(addr, 200*time.Millisecond)
	if err := check(context.Background()); err == nil {
		t.Error("Expected unreachable backend to fail the check")
	}
}
