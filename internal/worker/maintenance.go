package worker

import (
	"context"
	"log/slog"
	"time"
)

// MaintainedCache is the cache surface the maintenance worker drives.
// The cache never evicts on its own; this worker is the external caller
// that bounds entry count and purges expired entries off the request path.
type MaintainedCache interface {
	Cleanup() int
	EvictLRU(target int) int
}

// CacheMaintenance periodically removes expired cache entries and evicts
// down to the configured entry bound.
type CacheMaintenance struct {
	cache      MaintainedCache
	interval   time.Duration
	maxEntries int

	// OnEvict, when non-nil, is invoked once per entry removed by a sweep,
	// expired and LRU-evicted alike. Callers use it to feed counters.
	OnEvict func(n int)
}

// NewCacheMaintenance creates a maintenance worker for cache. maxEntries
// of 0 disables LRU eviction; interval of 0 falls back to five minutes.
func NewCacheMaintenance(cache MaintainedCache, interval time.Duration, maxEntries int) *CacheMaintenance {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CacheMaintenance{cache: cache, interval: interval, maxEntries: maxEntries}
}

// Name returns the worker identifier.
func (w *CacheMaintenance) Name() string { return "cache_maintenance" }

// Run sweeps the cache on every tick until ctx is cancelled.
func (w *CacheMaintenance) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *CacheMaintenance) sweep(ctx context.Context) {
	expired := w.cache.Cleanup()
	evicted := 0
	if w.maxEntries > 0 {
		evicted = w.cache.EvictLRU(w.maxEntries)
	}
	if expired > 0 || evicted > 0 {
		if w.OnEvict != nil {
			w.OnEvict(expired + evicted)
		}
		slog.LogAttrs(ctx, slog.LevelInfo, "cache maintenance",
			slog.Int("expired", expired),
			slog.Int("evicted", evicted),
		)
	}
}
