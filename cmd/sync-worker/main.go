package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/catalogsync/api/routes"
	"github.com/angelmondragon/catalogsync/internal/assets"
	"github.com/angelmondragon/catalogsync/internal/audit"
	"github.com/angelmondragon/catalogsync/internal/catalog"
	"github.com/angelmondragon/catalogsync/internal/reconcile"
	"github.com/angelmondragon/catalogsync/internal/syncrun"
	"github.com/angelmondragon/catalogsync/pkg/commands"
	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
	"github.com/angelmondragon/catalogsync/pkg/migrate"
	"github.com/angelmondragon/catalogsync/pkg/redis"
)

const serviceName = "sync-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	input := flag.String("input", "", "JSON lines file with supplier records (overrides CATALOGSYNC_INPUT_PATH)")
	supplierID := flag.String("supplier", "", "supplier id (overrides CATALOGSYNC_SUPPLIER_ID)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if *input != "" {
		cfg.Sync.InputPath = *input
	}
	if *supplierID != "" {
		cfg.Sync.SupplierID = *supplierID
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	if cfg.Sync.SupplierID == "" || cfg.Sync.InputPath == "" {
		logg.Error(context.Background(), "supplier id and input path are required", errors.New("missing sync target"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRun(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run auto migrations", err)
		os.Exit(1)
	}

	var locker reconcile.Locker = reconcile.NewMemoryLocker()
	var redisPinger interface{ Ping(context.Context) error }
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLocker, err := reconcile.NewRedisLocker(redisClient, cfg.Sync.ReconcileLockTTL)
		if err != nil {
			logg.Error(ctx, "failed to create reconcile lock", err)
			os.Exit(1)
		}
		locker = redisLocker
		redisPinger = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; reconcile lock is process local")
	}

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
	auditWriter := audit.NewWriter()

	acquirer, err := assets.NewAcquirer(assets.Params{
		Config:  cfg.Assets,
		Logger:  logg,
		Metrics: syncMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create asset acquirer", err)
		os.Exit(1)
	}

	upserter, err := catalog.NewUpserter(catalog.UpserterParams{
		Logger:           logg,
		DB:               dbClient,
		Repo:             catalog.NewRepository(dbClient.DB()),
		Audit:            auditWriter,
		Assets:           acquirer,
		ImageLimit:       cfg.Sync.ImageLimit,
		ImageConcurrency: cfg.Sync.ImageConcurrency,
		Canceled:         func() bool { return ctx.Err() != nil },
	})
	if err != nil {
		logg.Error(ctx, "failed to create upserter", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Logger:   logg,
		DB:       dbClient,
		Repo:     reconcile.NewRepository(dbClient.DB()),
		Audit:    auditWriter,
		Commands: commands.NewQueue(commands.NewRepository(dbClient.DB()), logg),
		Metrics:  syncMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	runner, err := syncrun.NewRunner(syncrun.RunnerParams{
		Logger:      logg,
		Upserter:    upserter,
		Gate:        reconcile.NewGate(cfg.Sync.MinSuccessRate, logg, syncMetrics),
		Engine:      engine,
		Locker:      locker,
		Metrics:     syncMetrics,
		Parallelism: cfg.Sync.UpsertParallelism,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync runner", err)
		os.Exit(1)
	}

	tracker := syncrun.NewTracker()
	scheduler, err := syncrun.NewScheduler(syncrun.SchedulerParams{
		Logger:   logg,
		Runner:   runner,
		Supplier: catalog.Supplier{ID: cfg.Sync.SupplierID, SKUPrefix: cfg.Sync.SKUPrefix},
		Open:     syncrun.FileOpener(cfg.Sync.InputPath),
		Interval: cfg.Sync.Interval,
		Tracker:  tracker,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync scheduler", err)
		os.Exit(1)
	}

	var server *http.Server
	if cfg.Metrics.Addr != "" {
		deps := routes.Deps{DB: dbClient, Gatherer: prometheus.DefaultGatherer, Runs: tracker}
		if redisPinger != nil {
			deps.Redis = redisPinger
		}
		server = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           routes.NewRouter(cfg, logg, deps),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logg.Info(logg.WithField(ctx, "addr", cfg.Metrics.Addr), "ops server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "ops server stopped unexpectedly", err)
			}
		}()
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"supplier_id": cfg.Sync.SupplierID,
		"input":       cfg.Sync.InputPath,
		"interval":    cfg.Sync.Interval.String(),
	}), "starting sync worker")

	runErr := scheduler.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "ops server shutdown failed", err)
		}
		cancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "sync worker stopped with errors", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "sync worker shutting down gracefully")
}
