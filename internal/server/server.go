// Package server implements the HTTP transport layer for the Archivist
// resource server.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/cache"
	"github.com/avenor/archivist/internal/ratelimit"
	"github.com/avenor/archivist/internal/router"
	"github.com/avenor/archivist/internal/storage"
	"github.com/avenor/archivist/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// AccessRecorder records resource access events asynchronously.
type AccessRecorder interface {
	Record(archivist.AccessRecord)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Router     *router.Router
	Cache      *cache.Memory
	Store      storage.AccessStore // nil = access-log endpoint disabled
	ReadyCheck ReadyChecker        // nil = always ready (for tests)
	Access     AccessRecorder      // nil = no access recording
	Metrics    *telemetry.Metrics  // nil = no metrics
	Registry   prometheus.Gatherer // nil = no /metrics endpoint
	DefaultTTL time.Duration       // fallback when a handler returns no TTL

	RateLimiter  *ratelimit.Registry // nil = no rate limiting
	RateLimitRPM int64               // per-client requests per minute; 0 = unlimited
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.DefaultTTL <= 0 {
		deps.DefaultTTL = 5 * time.Minute
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// Resource dispatch: everything under /resources/ goes through the
	// envelope cache and the URI-template router.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/resources/*", s.handleResource)
		r.Head("/resources/*", s.handleResource)
	})

	// Operational endpoints
	r.Get("/routes", s.handleRoutes)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Delete("/cache", s.handleCacheInvalidate)
	r.Post("/cache/cleanup", s.handleCacheCleanup)
	r.Get("/access", s.handleAccessLog)

	return r
}

type server struct {
	deps   Deps
	flight singleflight.Group
}
