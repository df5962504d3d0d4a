// Package api exposes the context service over REST and WebSocket.
package api

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/localrivet/sharedcontext/internal/gateway"
	"github.com/localrivet/sharedcontext/internal/service"
	"github.com/localrivet/sharedcontext/internal/subscription"
	"github.com/localrivet/sharedcontext/internal/telemetry"
)

// DefaultMaxPageSize is the largest limit accepted when none is configured.
const DefaultMaxPageSize = 100

// Options holds the collaborators of the REST handler.
type Options struct {
	Service     *service.ContextService
	Gateway     *gateway.Gateway
	Registry    *subscription.Registry
	Metrics     *telemetry.MetricsCollector
	Logger      *slog.Logger
	MaxPageSize int
}

// Handler serves the REST API.
type Handler struct {
	service     *service.ContextService
	gateway     *gateway.Gateway
	registry    *subscription.Registry
	metrics     *telemetry.MetricsCollector
	logger      *slog.Logger
	maxPageSize int
	mux         *http.ServeMux
}

// NewHandler builds the REST handler and its routes.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		service:     opts.Service,
		gateway:     opts.Gateway,
		registry:    opts.Registry,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		maxPageSize: opts.MaxPageSize,
		mux:         http.NewServeMux(),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = telemetry.NewMetricsCollector()
	}
	if h.maxPageSize <= 0 {
		h.maxPageSize = DefaultMaxPageSize
	}

	h.mux.HandleFunc("POST /contexts", h.createContext)
	h.mux.HandleFunc("GET /contexts", h.listContexts)
	h.mux.HandleFunc("GET /contexts/{contextId}/readme", h.getReadme)
	h.mux.HandleFunc("PUT /contexts/{contextId}/readme", h.updateReadme)
	h.mux.HandleFunc("GET /contexts/{contextId}/context", h.getEntries)
	h.mux.HandleFunc("POST /contexts/{contextId}/context", h.addEntry)
	h.mux.HandleFunc("GET /contexts/{contextId}/subscribe", h.subscribe)
	h.mux.HandleFunc("GET /healthz", h.health)
	h.mux.HandleFunc("GET /metrics", h.metricsReport)

	return h
}

// ServeHTTP implements http.Handler with request logging and timing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if r.Body != nil {
		r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
	}

	h.mux.ServeHTTP(rec, r)

	elapsed := time.Since(start)
	h.metrics.IncrementCounter(telemetry.MetricHTTPRequests, 1)
	h.metrics.RecordTimer(telemetry.MetricHTTPResponseTime, elapsed)
	if rec.status >= http.StatusBadRequest {
		h.metrics.IncrementCounter(telemetry.MetricHTTPErrors, 1)
	}

	h.logger.Info("HTTP request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// statusRecorder captures the response status. It must stay hijackable for
// WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
