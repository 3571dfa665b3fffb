// Package api serves caption history, session status and a live caption
// feed over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yegors/livecaptions/internal/observe"
	"github.com/yegors/livecaptions/pkg/logger"
)

// RouterConfig selects the optional routes
type RouterConfig struct {
	CORSAllowedOrigins []string
	// ServeMetrics exposes the Prometheus registry on /metrics
	ServeMetrics bool
}

// Router is the API router
type Router struct {
	handler    *Handler
	hub        *Hub
	middleware *Middleware
	config     RouterConfig
	logger     *logger.Logger
}

// NewRouter creates a new API router. hub may be nil to disable /api/v1/ws.
func NewRouter(handler *Handler, hub *Hub, config RouterConfig, metrics *observe.Metrics, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Nop()
	}
	return &Router{
		handler:    handler,
		hub:        hub,
		middleware: NewMiddleware(metrics, log),
		config:     config,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/captions", r.handler.GetRecentCaptions)
		router.Get("/captions/time-range", r.handler.GetCaptionsByTimeRange)
		router.Get("/status", r.handler.GetStatus)
		if r.hub != nil {
			router.Handle("/ws", r.hub)
		}
	})

	router.Get("/health", r.handler.GetHealth)
	if r.config.ServeMetrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	return router
}
