// Package telemetry provides observability primitives for the Archivist server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the resource server.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheNotModified prometheus.Counter
	CacheEntries     prometheus.Gauge
	CacheEvictions   prometheus.Counter
	HandlerDuration  *prometheus.HistogramVec
	HandlerErrors    *prometheus.CounterVec
	AccessQueueDrops prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "archivist",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "archivist",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "cache_hits_total",
			Help:      "Total resource cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "cache_misses_total",
			Help:      "Total resource cache misses.",
		}),

		CacheNotModified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "cache_not_modified_total",
			Help:      "Total conditional requests answered 304 from cache validators.",
		}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "archivist",
			Name:      "cache_entries",
			Help:      "Current number of cache entries.",
		}),

		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "cache_evictions_total",
			Help:      "Total entries removed by LRU eviction.",
		}),

		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "archivist",
			Name:                            "handler_duration_seconds",
			Help:                            "Resource handler computation duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"pattern"}),

		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "handler_errors_total",
			Help:      "Total resource handler failures.",
		}, []string{"pattern"}),

		AccessQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "archivist",
			Name:      "access_queue_drops_total",
			Help:      "Access records dropped because the recorder queue was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.CacheNotModified,
		m.CacheEntries,
		m.CacheEvictions,
		m.HandlerDuration,
		m.HandlerErrors,
		m.AccessQueueDrops,
	)

	return m
}
