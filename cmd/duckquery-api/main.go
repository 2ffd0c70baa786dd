package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckquery/duckquery/internal/api"
	"github.com/duckquery/duckquery/internal/auth"
	"github.com/duckquery/duckquery/internal/catalog"
	catalogpostgres "github.com/duckquery/duckquery/internal/catalog/postgres"
	"github.com/duckquery/duckquery/internal/config"
	"github.com/duckquery/duckquery/internal/dataset/duckdb"
	"github.com/duckquery/duckquery/internal/engine"
	"github.com/duckquery/duckquery/internal/generation"
	"github.com/duckquery/duckquery/internal/ingest"
	"github.com/duckquery/duckquery/internal/maintenance"
	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/query"
	"github.com/duckquery/duckquery/internal/storage"
	s3store "github.com/duckquery/duckquery/internal/storage/s3"
)

func main() {
	if _, err := config.LoadEnvFile(os.LookupEnv); err != nil {
		slog.Error("failed to load env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("duckquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		catalogRepo catalog.Repository = catalog.NewMemory()
		objectStore storage.ObjectStore
		readiness   api.ReadinessCheck
	)
	if cfg.Persistence.Enabled {
		catalogDB, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfigFrom(cfg.Catalog, cfg.Service.Name))
		if err != nil {
			logger.Error("failed to open catalog db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = catalogDB.Close() }()
		catalogRepo = catalogpostgres.NewRepository(catalogDB)

		objectStore, err = s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		readiness = api.CombineReadinessChecks(
			api.CheckCatalogDSN(cfg),
			catalogRepo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		)
	}

	sessions := duckdb.NewManager()
	defer func() { _ = sessions.Close() }()
	datasets, err := ingest.NewService(ingest.Options{
		Sessions: sessions,
		Catalog:  catalogRepo,
		Objects:  objectStore,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize dataset service", slog.Any("error", err))
		os.Exit(1)
	}
	if datasets.Persistent() && cfg.Persistence.RestoreOnStart {
		report, err := datasets.Restore(ctx)
		if err != nil {
			logger.Error("failed to restore datasets", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("restored archived datasets",
			slog.Int("restored", report.Restored),
			slog.Int("failed", report.Failed),
			slog.Int("skipped", report.Skipped),
			slog.Duration("elapsed", report.Elapsed),
		)
	}

	var generator engine.Generator
	var closers []io.Closer
	if cfg.AI.Enabled {
		providers, err := generation.NewProviders(ctx, cfg.AI)
		switch {
		case errors.Is(err, generation.ErrNoProviderConfigured):
			logger.Warn("no LLM provider configured; translate and suggest are disabled")
		case err != nil:
			logger.Error("failed to initialize LLM providers", slog.Any("error", err))
			os.Exit(1)
		default:
			router := generation.NewRouter(providers, cfg.AI.Timeout, logger)
			generator = router
			for _, provider := range providers {
				if closer, ok := provider.(io.Closer); ok {
					closers = append(closers, closer)
				}
			}
			logger.Info("llm providers ready", slog.Any("providers", router.Providers()))
		}
	}
	defer func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}()

	queryEngine := engine.New(
		generator,
		query.NewExecutor(cfg.Query.Timeout, cfg.Query.MaxRows),
		engine.Config{
			TranslateTemperature: cfg.AI.TranslateTemperature,
			SuggestTemperature:   cfg.AI.SuggestTemperature,
		},
		logger,
	)

	maintenanceService := &maintenance.Service{
		Catalog:     catalogRepo,
		Datasets:    datasets,
		ObjectStore: objectStore,
		Config: maintenance.Config{
			RetentionInterval: cfg.Maintenance.RetentionInterval,
			DatasetTTL:        cfg.Maintenance.DatasetTTL,
		},
		Logger: logger,
	}
	go func() {
		if err := maintenanceService.Run(ctx); err != nil {
			logger.Error("maintenance loop stopped", slog.Any("error", err))
		}
	}()

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         readiness,
		DependencyTimeout: time.Second,
		Datasets:          datasets,
		Engine:            queryEngine,
		History:           catalogRepo,
		Maintenance:       maintenanceService,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Bool("persistent", datasets.Persistent()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
