package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	githubadapter "github.com/ericfisherdev/checkpulse/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/checkpulse/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/checkpulse/internal/adapter/driving/http"
	"github.com/ericfisherdev/checkpulse/internal/application"
	"github.com/ericfisherdev/checkpulse/internal/config"
	"github.com/ericfisherdev/checkpulse/internal/domain/port/driven"
	"github.com/ericfisherdev/checkpulse/internal/observability"
)

func serve(parent context.Context, v *viper.Viper, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"cache_ttl", cfg.CacheTTL,
		"github_api_url", cfg.GitHubAPIURL,
	)

	// 1. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the status cache and drop entries that expired while down.
	db, cache, err := openStatusCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	go purgeLoop(ctx, cache, cfg.CacheTTL, logger)

	// 3. Create the GitHub client behind a provider so SIGHUP can swap it.
	api, err := newChecksAPI(cfg, logger)
	if err != nil {
		return err
	}
	provider := application.NewChecksClientProvider(api)
	go reloadOnHangup(ctx, v, provider, logger)

	// 4. Metrics: OTel instruments exported in Prometheus format.
	meterProvider, metricsHandler, err := observability.PrometheusHandler()
	if err != nil {
		return err
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Error("meter provider shutdown error", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics(meterProvider.Meter(observability.MeterName))
	if err != nil {
		return err
	}

	// 5. Session registry, one monitor per watched ref.
	registry := application.NewMonitorRegistry(ctx, provider, cache, monitorConfig(cfg),
		application.WithRegistryMetrics(metrics),
		application.WithRegistryLogger(logger),
	)
	defer registry.Close()

	// 6. HTTP server.
	handler := httphandler.NewHandler(registry, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, metricsHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("checkpulse started", "version", version, "polling", provider.HasClient())

	// 7. Wait for a shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down")

	// 8. Stop sessions first so open streams end, then drain the server.
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openStatusCache opens the database, migrates it and purges expired rows.
func openStatusCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqliteadapter.DB, *sqliteadapter.StatusCacheRepo, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database opened", "path", db.Path())

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cache := sqliteadapter.NewStatusCacheRepo(db, sqliteadapter.WithTTL(cfg.CacheTTL))
	if n, err := cache.PurgeExpired(ctx); err != nil {
		logger.Warn("purge expired statuses failed", "error", err)
	} else if n > 0 {
		logger.Info("purged expired statuses", "count", n)
	}
	return db, cache, nil
}

// purgeLoop removes expired cache rows once per ttl until ctx ends.
func purgeLoop(ctx context.Context, cache *sqliteadapter.StatusCacheRepo, ttl time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := cache.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired statuses failed", "error", err)
				continue
			}
			logger.Debug("purged expired statuses", "count", n)
		}
	}
}

// newChecksAPI returns a GitHub client, or nil when no token is configured.
// A nil client keeps the server up: cached statuses are still served and
// sessions report the missing client as their error.
func newChecksAPI(cfg *config.Config, logger *slog.Logger) (driven.ChecksAPI, error) {
	if !cfg.HasGitHubCredentials() {
		logger.Info("no github token configured, polling disabled until one is provided")
		return nil, nil
	}
	client, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("create github client: %w", err)
	}
	logger.Info("github client created")
	return client, nil
}

// reloadOnHangup re-reads configuration on SIGHUP and swaps in a client built
// from the new token. Live sessions pick it up on their next poll.
func reloadOnHangup(ctx context.Context, v *viper.Viper, provider *application.ChecksClientProvider, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(v)
			if err != nil {
				logger.Error("reload config failed", "error", err)
				continue
			}
			api, err := newChecksAPI(cfg, logger)
			if err != nil {
				logger.Error("reload github client failed", "error", err)
				continue
			}
			provider.Replace(api)
			logger.Info("github client reloaded", "polling", provider.HasClient())
		}
	}
}

// monitorConfig maps configuration onto monitor tuning.
func monitorConfig(cfg *config.Config) application.MonitorConfig {
	return application.MonitorConfig{
		Backoff: application.BackoffConfig{
			Min:       cfg.Backoff.Min,
			Max:       cfg.Backoff.Max,
			Midpoint:  cfg.Backoff.Midpoint,
			Steepness: cfg.Backoff.Steepness,
		},
		MinCompletedAge:   cfg.MinCompletedAge,
		BootstrapAttempts: cfg.BootstrapAttempts,
		BootstrapDelay:    cfg.BootstrapDelay,
	}
}
