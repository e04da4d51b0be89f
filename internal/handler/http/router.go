package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hatesnake69/tg-review-data-collector/internal/health"
	"github.com/Hatesnake69/tg-review-data-collector/internal/middleware"
)

// NewRouter creates a chi router with all service routes registered.
func NewRouter(
	pipelineService PipelineService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware. Recovery sits innermost so the logging and metrics
	// layers see the 500 it writes and the correlation ID reaches its logs.
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("review-collector"))
	r.Use(middleware.Recovery(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	pipelineHandler := NewPipelineHandler(pipelineService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/pipeline/fetch", pipelineHandler.TriggerFetch)
		r.Post("/pipeline/stats", pipelineHandler.TriggerStats)
		r.Get("/stats/latest", pipelineHandler.LatestStat)
	})

	return r
}

// ContentTypeJSON sets the response content type to application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
