// Package api exposes the orchestrator over HTTP: event intake, catalog and
// template tooling, attempt history, analytics and the health endpoints.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"service-notifications/internal/analytics"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/metrics"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/orchestration"
)

const maxBodyBytes = 1 << 20

type Orchestrator interface {
	Dispatch(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
}

type CatalogReader interface {
	Catalog(ctx context.Context) (*models.Catalog, error)
}

type HistoryReader interface {
	History(ctx context.Context, eventID string) ([]models.DispatchAttempt, error)
}

type SummaryReader interface {
	Summary(ctx context.Context, since time.Time) (*analytics.Summary, error)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type Deps struct {
	Orchestrator Orchestrator
	Catalog      CatalogReader
	History      HistoryReader
	// Summary is nil when analytics is disabled.
	Summary SummaryReader
	Checks  map[string]Checker
}

type Server struct {
	deps   Deps
	logger logger.Logger
	now    func() time.Time
}

func NewServer(deps Deps, log logger.Logger) *Server {
	return &Server{deps: deps, logger: log.Named("api"), now: time.Now}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/events", s.instrument("events", s.handleDispatch))
	mux.Handle("GET /v1/events/{id}/attempts", s.instrument("attempts", s.handleAttempts))
	mux.Handle("GET /v1/catalog", s.instrument("catalog", s.handleCatalog))
	mux.Handle("POST /v1/templates/preview", s.instrument("preview", s.handlePreview))
	mux.Handle("GET /v1/analytics/summary", s.instrument("summary", s.handleSummary))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("request served", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"durationMs": elapsed.Milliseconds(),
		})
	})
}
