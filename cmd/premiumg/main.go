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

	"github.com/hibiken/asynq"

	"github.com/jemeelsanni/premium-g-backend-sub001/cmd/premiumg/cli"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/app"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/audit"
	audithttp "github.com/jemeelsanni/premium-g-backend-sub001/internal/audit/http"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/masterdata/products"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/observability"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/cache"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/platform/db"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/shared"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/warehouse"
	"github.com/jemeelsanni/premium-g-backend-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, availability reads fall through", slog.Any("error", err))
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
	idempotencyStore := shared.NewIdempotencyStore(pool)

	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo)
	productsHandler := products.NewHandler(logger, productsService)

	warehouseRepo := warehouse.NewRepository(pool)
	availabilityCache := warehouse.NewAvailabilityCache(redisClient, cfg.AvailabilityTTL, logger)
	reconciler := warehouse.NewReconciler(warehouseRepo, productsService, auditLogger, availabilityCache, logger, warehouse.ReconcilerConfig{
		SyncParallelism: cfg.SyncParallelism,
		RepairTimeout:   cfg.RepairTimeout,
	})
	warehouseService := warehouse.NewService(warehouseRepo, reconciler, idempotencyStore, availabilityCache, logger)
	integrityValidator := warehouse.NewIntegrityValidator(warehouseRepo, logger)
	warehouseHandler := warehouse.NewHandler(logger, warehouseService, reconciler, integrityValidator)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audithttp.NewHandler(logger, auditService)

	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		WarehouseHandler: warehouseHandler,
		ProductsHandler:  productsHandler,
		AuditHandler:     auditHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: premiumg jobs trigger <task>|stats|scheduled")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: premiumg jobs trigger <task>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, 10)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s id=%s next=%s\n", task.Type, task.ID, task.NextProcessAt.Format(time.RFC3339))
		}
		if len(tasks) == 0 {
			fmt.Println("no scheduled tasks")
		}
		return nil
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
}
