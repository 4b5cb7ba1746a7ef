package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/passwatch/internal/api"
	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/config"
	"github.com/star/passwatch/internal/health"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/publish"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/visibility"
	"github.com/star/passwatch/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("PASSWATCH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(bootLogger); err != nil {
		bootLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog := tle.NewStore()
	fetcher := tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraURLs...)

	var reload func(context.Context) (int, error)
	if cfg.TLE.EnableFetch {
		reload = func(ctx context.Context) (int, error) {
			n, err := catalog.Refresh(ctx, fetcher)
			if err != nil {
				return 0, err
			}
			metrics.SetTLEDatasetCount(catalog.Count())
			return n, nil
		}

		go func() {
			n, err := reload(ctx)
			if err != nil {
				logger.Warn("initial catalog load failed", "source", fetcher.SourceURL(), "error", err)
				return
			}
			logger.Info("catalog loaded", "source", fetcher.SourceURL(), "count", n)
		}()
		go catalog.RunRefresher(ctx, fetcher, cfg.TLE.RefreshInterval, logger, func(int) {
			metrics.SetTLEDatasetCount(catalog.Count())
		})
	}

	// Background goroutine to update TLE dataset age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := catalog.AgeSeconds(); age >= 0 {
					metrics.SetTLEDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var store cache.Store
	if cfg.Cache.Dir != "" {
		store = cache.NewFileStore(cfg.Cache.Dir)
	}
	elementCache := cache.New(cache.Config{
		MinTTL:        cfg.Cache.MinTTL,
		MinTLETTL:     cfg.Cache.MinTLETTL,
		RateWindow:    cfg.Cache.RateWindow,
		WriteBudget:   cfg.Cache.WriteBudget,
		SweepInterval: cfg.Cache.SweepInterval,
	}, store, logger)
	elementCache.Start(ctx)
	defer elementCache.Dispose()

	prop := propagation.NewPropagator(nil, propagation.Config{
		Step:     cfg.Propagation.Step,
		MaxSteps: cfg.Propagation.MaxSteps,
	}, logger)
	task := worker.NewTask(prop, worker.TaskConfig{
		Workers:   cfg.Worker.Workers,
		QueueSize: cfg.Worker.QueueSize,
	}, logger)
	task.Start(ctx)
	client := worker.NewClient(task, logger)

	deps := predict.Deps{
		Cache:      elementCache,
		Fetcher:    fetcher,
		Catalog:    catalog,
		Calculator: client,
		PreFilter:  visibility.DefaultPreFilter(),
	}
	if cfg.Kafka.Enabled {
		pub, err := publish.New(publish.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		if err != nil {
			logger.Error("configuring kafka publisher", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		deps.Publisher = pub
	}
	svc := predict.NewService(deps, predict.Config{
		TLETTL:            cfg.TLE.TTL,
		ResultTTL:         cfg.Cache.ResultTTL,
		SearchConcurrency: cfg.Worker.SearchConcurrency,
		MaxSearchResults:  cfg.Worker.MaxSearchResults,
		MaxWindow:         cfg.Propagation.MaxWindow,
	}, logger)

	catalogReady := func() error {
		if cfg.TLE.EnableFetch && catalog.Get() == nil {
			return errors.New("catalog not loaded")
		}
		return nil
	}

	srv := api.NewServer(api.Options{
		Addr:               cfg.HTTP.Addr,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		TrustProxy:         cfg.HTTP.TrustProxy,
		MaxConcurrentPerIP: cfg.HTTP.MaxConcurrentPerIP,
		Auth:               auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
	}, api.Deps{
		Service: svc,
		Cache:   elementCache,
		Catalog: catalog,
		Reload:  reload,
		Ready:   []health.Check{catalogReady},
	}, logger)

	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"tle_fetch_enabled", cfg.TLE.EnableFetch,
			"workers", cfg.Worker.Workers,
			"cache_dir", cfg.Cache.Dir,
			"kafka_enabled", cfg.Kafka.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("server listen error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	client.Close()
	task.Stop()

	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
