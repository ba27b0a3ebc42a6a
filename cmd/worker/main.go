package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jemeelsanni/premium-g-backend-sub001/internal/app"
	jobmetrics "github.com/jemeelsanni/premium-g-backend-sub001/internal/jobs"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/masterdata/products"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/cache"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/db"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/warehouse"
	"github.com/jemeelsanni/premium-g-backend-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable for availability cache", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	productsService := products.NewService(products.NewRepository(pool))

	warehouseRepo := warehouse.NewRepository(pool)
	availabilityCache := warehouse.NewAvailabilityCache(redisClient, cfg.AvailabilityTTL, logger)
	reconciler := warehouse.NewReconciler(warehouseRepo, productsService, auditLogger, availabilityCache, logger, warehouse.ReconcilerConfig{
		SyncParallelism: cfg.SyncParallelism,
		RepairTimeout:   cfg.RepairTimeout,
	})
	validator := warehouse.NewIntegrityValidator(warehouseRepo, logger)

	metrics := jobmetrics.NewMetrics(nil)

	syncJob := jobs.NewSnapshotSyncJob(reconciler, logger, metrics)
	auditJob := jobs.NewFullAuditJob(reconciler, logger, metrics)
	scanJob := jobs.NewIntegrityScanJob(reconciler, validator, logger, metrics)

	now := time.Now().UTC()
	syncTask, err := jobs.NewSnapshotSyncTask(now)
	if err != nil {
		logger.Error("build snapshot sync task", slog.Any("error", err))
		os.Exit(1)
	}
	auditTask, err := jobs.NewFullAuditTask(now)
	if err != nil {
		logger.Error("build full audit task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewIntegrityScanTask(now, false)
	if err != nil {
		logger.Error("build integrity scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockSnapshotSync, Handler: syncJob.Handle},
			{Type: jobs.TaskStockFullAudit, Handler: auditJob.Handle},
			{Type: jobs.TaskStockIntegrityScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			// A failed sync is superseded by the next five-minute run.
			{Spec: "*/5 * * * *", Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "0 * * * *", Task: auditTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
