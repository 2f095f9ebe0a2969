package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-pos/atlas-pos/internal/app"
	"github.com/atlas-pos/atlas-pos/internal/platform/cache"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	"github.com/atlas-pos/atlas-pos/internal/shared"
	"github.com/atlas-pos/atlas-pos/internal/stock"
	"github.com/atlas-pos/atlas-pos/jobs"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	stockCache := stock.NewCache(redisClient, cfg.SummaryCacheTTL)
	stockRepo := stock.NewRepository(pool)
	querySvc := stock.NewQueryService(stockRepo, stock.QueryConfig{
		Logger:          logger,
		Cache:           stockCache,
		SummaryPageSize: cfg.SummaryPageSize,
		LowStockCeiling: cfg.LowStockCeiling,
	})

	syncTask, err := jobs.NewStockSyncTask(jobs.StockSyncPayload{
		ScheduledFor: time.Now().UTC(),
		TriggeredBy:  "cron",
	})
	if err != nil {
		logger.Error("build sync task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(30 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	idempotencyStore := shared.NewIdempotencyStore(pool)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeStockSync, Handler: jobs.NewStockSyncHandler(querySvc, logger)},
			{Type: jobs.TaskTypeLowStockScan, Handler: jobs.NewLowStockScanHandler(querySvc, logger)},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: syncTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 7 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
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
