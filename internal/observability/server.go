// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept work.
type ReadinessChecker func() bool

// Metrics contains the Prometheus metrics for account and token lifecycle
// events. It implements account.Metrics.
type Metrics struct {
	tokensIssued       *prometheus.CounterVec
	tokenVerifications *prometheus.CounterVec
	registrations      prometheus.Counter
	authFailures       prometheus.Counter
}

// NewMetrics creates and registers the Gatehouse metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_tokens_issued_total",
				Help: "Total number of tokens issued by context",
			},
			[]string{"context"},
		),
		tokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_verifications_total",
				Help: "Total number of token verifications by context and outcome",
			},
			[]string{"context", "outcome"},
		),
		registrations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_registrations_total",
				Help: "Total number of completed registrations",
			},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_authentication_failures_total",
				Help: "Total number of rejected email/password authentications",
			},
		),
	}

	reg.MustRegister(m.tokensIssued)
	reg.MustRegister(m.tokenVerifications)
	reg.MustRegister(m.registrations)
	reg.MustRegister(m.authFailures)

	return m
}

// TokenIssued records a minted token. Change contexts collapse to "change"
// so the label set stays bounded.
func (m *Metrics) TokenIssued(tokenContext string) {
	m.tokensIssued.WithLabelValues(boundedContext(tokenContext)).Inc()
}

// TokenVerified records a verification outcome ("accepted" or "rejected").
func (m *Metrics) TokenVerified(tokenContext, outcome string) {
	m.tokenVerifications.WithLabelValues(boundedContext(tokenContext), outcome).Inc()
}

// RegistrationCompleted records a successful registration.
func (m *Metrics) RegistrationCompleted() {
	m.registrations.Inc()
}

// AuthenticationFailed records a rejected credential check.
func (m *Metrics) AuthenticationFailed() {
	m.authFailures.Inc()
}

// boundedContext maps the open-ended change:<email> contexts to a single
// label value.
func boundedContext(tokenContext string) string {
	if len(tokenContext) >= 7 && tokenContext[:7] == "change:" {
		return "change"
	}
	return tokenContext
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Own registry to avoid polluting the global one
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// Metrics returns the metrics recorder for wiring into the account services.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints. It returns an error channel
// that receives any error from the HTTP server after it starts; the channel
// is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready, else 503.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
