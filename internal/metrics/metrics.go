// Package metrics provides Prometheus instrumentation for trade synchronization
// and an HTTP endpoint exposing it together with a health probe.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnayoung/go-trade-collector/internal/config"
	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/logger"
)

const namespace = "tradesync"

// SyncMetrics holds the collectors updated by the sync orchestration.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	TradesSynced  *prometheus.CounterVec
	PagesFetched  *prometheus.CounterVec
	BatchesStored *prometheus.CounterVec
	SyncErrors    *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
	SyncDuration  *prometheus.HistogramVec
	Cursor        *prometheus.GaugeVec
}

// NewSyncMetrics creates the sync collectors and registers them with reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		TradesSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "trades_synced_total", Help: "Trades delivered to the sink"},
			[]string{"pair"},
		),
		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "pages_fetched_total", Help: "History pages fetched from the exchange"},
			[]string{"pair"},
		),
		BatchesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "batches_stored_total", Help: "Trade batches written to the sink"},
			[]string{"pair"},
		),
		SyncErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "sync_errors_total", Help: "Pair syncs that ended in error, by error kind"},
			[]string{"pair", "kind"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "store_duration_seconds", Help: "Time spent writing one batch", Buckets: prometheus.DefBuckets},
			[]string{"pair"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "sync_duration_seconds", Help: "Wall time of one pair sync", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)},
			[]string{"pair"},
		),
		Cursor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "cursor_unix_seconds", Help: "Pagination cursor of the last fetched page"},
			[]string{"pair"},
		),
	}

	reg.MustRegister(
		m.TradesSynced,
		m.PagesFetched,
		m.BatchesStored,
		m.SyncErrors,
		m.StoreDuration,
		m.SyncDuration,
		m.Cursor,
	)
	return m
}

// ObserveBatch records one successful sink write.
func (m *SyncMetrics) ObserveBatch(pair string, trades int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TradesSynced.WithLabelValues(pair).Add(float64(trades))
	m.BatchesStored.WithLabelValues(pair).Inc()
	m.StoreDuration.WithLabelValues(pair).Observe(duration.Seconds())
}

// ObservePages records pages fetched since the previous call and the current cursor in nanoseconds.
func (m *SyncMetrics) ObservePages(pair string, pages int, cursorNanos int64) {
	if m == nil {
		return
	}
	if pages > 0 {
		m.PagesFetched.WithLabelValues(pair).Add(float64(pages))
	}
	m.Cursor.WithLabelValues(pair).Set(float64(cursorNanos) / float64(time.Second))
}

// ObserveSync records the outcome of one pair sync.
func (m *SyncMetrics) ObserveSync(pair string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(pair).Observe(duration.Seconds())
	if err != nil {
		m.SyncErrors.WithLabelValues(pair, string(apperrors.KindOf(err))).Inc()
	}
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server exposes a Prometheus gatherer and a health endpoint over HTTP.
type Server struct {
	config   config.MetricsConfig
	gatherer prometheus.Gatherer
	logger   *logger.ComponentLogger

	mu        sync.RWMutex
	server    *http.Server
	addr      string
	checkers  map[string]HealthChecker
	startTime time.Time
}

// NewServer creates a metrics server for gatherer. It does not listen until Start.
func NewServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, loggerMgr *logger.LoggerManager) *Server {
	return &Server{
		config:    cfg,
		gatherer:  gatherer,
		logger:    loggerMgr.GetComponentLogger("metrics"),
		checkers:  make(map[string]HealthChecker),
		startTime: time.Now(),
	}
}

// RegisterHealthChecker adds a component to the /health report.
func (s *Server) RegisterHealthChecker(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Handler returns the HTTP routes served by the metrics server.
func (s *Server) Handler() http.Handler {
	path := s.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start binds the configured address and serves in the background.
// It is a no-op when metrics are disabled.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Debug("metrics endpoint disabled")
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to start metrics HTTP server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	go func() {
		s.logger.Info("metrics HTTP server starting", "addr", listener.Addr().String(), "path", s.config.Path)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorWithContext(ctx, "metrics HTTP server failed", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.ErrorWithContext(ctx, "error shutting down metrics server", err)
		return err
	}
	s.logger.Debug("metrics HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	}

	components := make(map[string]string, len(checkers))
	code := http.StatusOK
	for name, checker := range checkers {
		if err := checker.HealthCheck(r.Context()); err != nil {
			components[name] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	if len(components) > 0 {
		status["components"] = components
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
