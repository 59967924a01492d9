// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Yvictor/pj/pkg/breaker"
	"github.com/Yvictor/pj/pkg/connection"
	pjerrors "github.com/Yvictor/pj/pkg/errors"
	"github.com/Yvictor/pj/pkg/idmanager"
	"github.com/Yvictor/pj/pkg/metrics"
	"github.com/Yvictor/pj/pkg/ratelimit"
	"github.com/Yvictor/pj/pkg/relay"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP relay server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the backend address connections are relayed to (host:port)
	TargetAddress string

	// DialTimeout bounds each backend dial attempt.
	DialTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for active connections to
	// drain during graceful shutdown. After this timeout, remaining
	// connections are forcefully closed.
	ShutdownTimeout time.Duration

	// Logger for server and connection lifecycle events
	Logger *slog.Logger

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics

	// Limiter optionally gates connection admission per client IP.
	Limiter *ratelimit.Limiter

	// Breaker optionally guards the backend dial path.
	Breaker *breaker.CircuitBreaker
}

// Server accepts client connections on one listen address and relays
// each to the fixed backend address. One Server runs per proxy mapping;
// each owns its active-connection tracker while the connection ID
// manager is shared process-wide.
type Server struct {
	config  Config
	ids     *idmanager.Manager
	tracker *connection.Tracker
	relay   *relay.Relay
	wg      sync.WaitGroup

	mu   sync.Mutex
	addr string // actual listen address, set once Listen binds
}

// New creates a relay server for one mapping. ids is the shared
// connection ID manager.
func New(cfg Config, ids *idmanager.Manager) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	tracker := connection.NewTracker()
	return &Server{
		config:  cfg,
		ids:     ids,
		tracker: tracker,
		relay: relay.New(relay.Config{
			Logger:  cfg.Logger,
			Tracker: tracker,
			Metrics: cfg.Metrics,
		}),
	}
}

// Addr returns the actual listen address once the server is bound, or ""
// before that. Useful when Address was configured with port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ActiveConnections returns the current active-connection gauge.
func (s *Server) ActiveConnections() uint64 {
	return s.tracker.Active()
}

// Listen starts the relay server and blocks until the context is
// cancelled, then drains active connections.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return pjerrors.Wrap(err, "failed to listen on "+s.config.Address)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.config.Logger.Info("relay server started",
		slog.String("address", s.Addr()),
		slog.String("backend", s.config.TargetAddress))

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(conn); err != nil {
					s.config.Logger.Debug("connection not relayed",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener",
		slog.String("address", s.Addr()))

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, abandoning remaining connections")
		return ErrShutdownTimeout
	}
}

// handleConn admits one client connection, dials the backend, and runs
// the relay. A failed dial means no relay is created and the
// active-connection gauge is untouched. A non-nil return only says why
// no relay ran; relay outcomes are reported via the connection logs.
func (s *Server) handleConn(inbound net.Conn) error {
	defer inbound.Close()

	clientAddr := inbound.RemoteAddr().String()

	if s.config.Limiter != nil {
		key := clientAddr
		if host, _, err := net.SplitHostPort(clientAddr); err == nil {
			key = host
		}
		if !s.config.Limiter.Allow(key) {
			if s.config.Metrics != nil {
				s.config.Metrics.RateLimitedConnections.WithLabelValues(s.config.Address).Inc()
			}
			return pjerrors.New("admit", 0, clientAddr, pjerrors.ErrRateLimited)
		}
	}

	outbound, err := s.dialBackend()
	if err != nil {
		s.config.Logger.Warn("failed to connect to backend",
			slog.String("backend", s.config.TargetAddress),
			slog.String("client", clientAddr),
			slog.String("error", err.Error()))
		if s.config.Metrics != nil {
			s.config.Metrics.BackendDialErrors.WithLabelValues(s.config.TargetAddress).Inc()
		}
		return pjerrors.New("dial", 0, clientAddr, pjerrors.Wrap(pjerrors.ErrBackendUnavailable, err.Error()))
	}
	defer outbound.Close()

	active := s.tracker.Admit()
	info := connection.NewInfo(s.ids.NextID(), clientAddr, s.Addr(), s.config.TargetAddress, active)
	if s.config.Metrics != nil {
		s.config.Metrics.ConnOpened(info.ProxyAddr)
	}

	s.relay.Run(inbound, outbound, info)
	return nil
}

// dialBackend opens the upstream connection, through the circuit breaker
// when one is configured.
func (s *Server) dialBackend() (net.Conn, error) {
	dial := func() (net.Conn, error) {
		return net.DialTimeout("tcp", s.config.TargetAddress, s.config.DialTimeout)
	}
	if s.config.Breaker == nil {
		return dial()
	}

	var conn net.Conn
	err := s.config.Breaker.Call(func() error {
		var dialErr error
		conn, dialErr = dial()
		return dialErr
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
