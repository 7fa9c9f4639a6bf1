package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/avenor/archivist/internal/cache"
	"github.com/avenor/archivist/internal/config"
	"github.com/avenor/archivist/internal/fetch"
	"github.com/avenor/archivist/internal/ratelimit"
	"github.com/avenor/archivist/internal/resources"
	"github.com/avenor/archivist/internal/router"
	"github.com/avenor/archivist/internal/server"
	"github.com/avenor/archivist/internal/storage/sqlite"
	"github.com/avenor/archivist/internal/telemetry"
	"github.com/avenor/archivist/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting archivist", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(),
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var (
		metrics  *telemetry.Metrics
		registry *prometheus.Registry
	)
	if cfg.Telemetry.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(registry)
	}

	// Resource cache
	envCache := cache.NewMemory(cache.Options{})

	// Resource modules
	rt := router.New()
	resources.NewADRSource(cfg.Resources.DocsDir, cfg.Cache.DefaultTTL).Register(rt)
	if cfg.Resources.Status.URL != "" {
		resolver := &dnscache.Resolver{}
		var creds *fetch.Credentials
		if a := cfg.Resources.Status.Auth; a != nil {
			creds = &fetch.Credentials{
				TokenURL:     a.TokenURL,
				ClientID:     a.ClientID,
				ClientSecret: a.ClientSecret,
				Scopes:       a.Scopes,
			}
		}
		client := fetch.NewClient(resolver, cfg.Resources.Status.Timeout, creds)
		resources.NewStatusSource(client, cfg.Resources.Status.URL, cfg.Resources.Status.TTL).Register(rt)
	}

	// Background workers: access-log batching and cache maintenance.
	recorder := worker.NewAccessRecorder(store)
	if metrics != nil {
		recorder.OnDrop = metrics.AccessQueueDrops.Inc
	}
	maintenance := worker.NewCacheMaintenance(envCache, cfg.Cache.CleanupInterval, cfg.Cache.MaxEntries)
	if metrics != nil {
		maintenance.OnEvict = func(n int) { metrics.CacheEvictions.Add(float64(n)) }
	}
	runner := worker.NewRunner(recorder, maintenance)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(workerCtx)
	}()

	// Create HTTP server
	deps := server.Deps{
		Router:     rt,
		Cache:      envCache,
		Store:      store,
		ReadyCheck: store.Ping,
		Access:     recorder,
		Metrics:    metrics,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}
	if cfg.Server.RateLimitRPM > 0 {
		deps.RateLimiter = ratelimit.NewRegistry()
		deps.RateLimitRPM = cfg.Server.RateLimitRPM
	}
	if registry != nil {
		// Assign only when set; a typed nil would satisfy the interface.
		deps.Registry = registry
	}
	handler := server.New(deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("archivist ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		return err
	}

	// Shutdown: stop accepting requests, then stop the workers so the
	// recorder drains its queue to the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("archivist stopped")
	return nil
}
