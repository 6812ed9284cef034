package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/schemalens/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/schemalens/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/schemalens/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/schemalens/pkg/cache"
	"github.com/ekaya-inc/schemalens/pkg/changedetect"
	"github.com/ekaya-inc/schemalens/pkg/config"
	"github.com/ekaya-inc/schemalens/pkg/database"
	"github.com/ekaya-inc/schemalens/pkg/discovery"
	"github.com/ekaya-inc/schemalens/pkg/engine"
	"github.com/ekaya-inc/schemalens/pkg/handlers"
	"github.com/ekaya-inc/schemalens/pkg/mapper"
	"github.com/ekaya-inc/schemalens/pkg/querybuilder"
	"github.com/ekaya-inc/schemalens/pkg/repositories"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := config.NewRuntime(cfg.Options())
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	schemaCache := cache.New(logger)

	factory := datasource.NewCatalogReaderFactory(logger)
	reader, err := factory.NewCatalogReader(ctx, cfg.Datasource.Type, cfg.Datasource.Map())
	if err != nil {
		logger.Fatal("Failed to connect to datasource",
			zap.String("type", cfg.Datasource.Type), zap.Error(err))
	}
	defer func() { _ = reader.Close() }()

	disc := discovery.NewService(reader, schemaCache, runtime, cfg.Discovery.SampleValues, logger)

	var store mapper.MappingStore = mapper.NewMemoryStore()
	if cfg.Store.Enabled() {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Store.URL(),
			MaxConnections: cfg.Store.MaxConnections,
		})
		if err != nil {
			logger.Fatal("Failed to connect to learned-mapping store", zap.Error(err))
		}
		defer db.Close()

		stdDB := stdlib.OpenDBFromPool(db.Pool)
		if err := database.RunMigrations(stdDB, cfg.Store.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		store = repositories.NewMappingRepository(db)
		logger.Info("Using persistent learned-mapping store",
			zap.String("host", cfg.Store.Host), zap.String("database", cfg.Store.Database))
	} else {
		logger.Info("No store configured; learned mappings are in-memory only")
	}

	snapshots := engine.NewSnapshotManager(disc, schemaCache, runtime, logger)
	if cfg.Fallback.SchemaPath != "" {
		if err := snapshots.LoadFallbackSchema(cfg.Fallback.SchemaPath); err != nil {
			logger.Warn("Failed to load fallback schema", zap.Error(err))
		}
	}

	m := mapper.New(snapshots, store, schemaCache, runtime, logger)
	builder := querybuilder.New(snapshots, logger)
	detector := changedetect.NewDetector(disc, schemaCache, runtime, logger)
	eng := engine.New(snapshots, m, builder, detector, schemaCache, runtime, logger)

	go detector.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(eng, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown did not complete cleanly", zap.Error(err))
		}
	}()

	logger.Info("Starting schemalens",
		zap.String("addr", srv.Addr),
		zap.String("version", cfg.Version),
		zap.String("datasource", cfg.Datasource.Type))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
