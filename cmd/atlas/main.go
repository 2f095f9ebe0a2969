package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-pos/atlas-pos/internal/app"
	"github.com/atlas-pos/atlas-pos/internal/catalog"
	"github.com/atlas-pos/atlas-pos/internal/observability"
	"github.com/atlas-pos/atlas-pos/internal/platform/cache"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	"github.com/atlas-pos/atlas-pos/internal/shared"
	"github.com/atlas-pos/atlas-pos/internal/stock"
	"github.com/atlas-pos/atlas-pos/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	stockCache := stock.NewCache(redisClient, cfg.SummaryCacheTTL)
	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(dbpool)
	stockRepo := stock.NewRepository(dbpool)
	recorder := stock.NewService(stockRepo, auditLogger, idempotencyStore, stock.ServiceConfig{
		JournalPrefix: cfg.JournalPrefix,
		Logger:        logger,
		Cache:         stockCache,
		Metrics:       metrics,
	})
	querySvc := stock.NewQueryService(stockRepo, stock.QueryConfig{
		Logger:          logger,
		Cache:           stockCache,
		SummaryPageSize: cfg.SummaryPageSize,
		LowStockCeiling: cfg.LowStockCeiling,
	})
	validator := stock.NewValidator(querySvc, catalogRepo)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	scheduleSync := func(r *http.Request) error {
		_, err := jobClient.EnqueueStockSync(r.Context(), jobs.StockSyncPayload{
			ScheduledFor: time.Now().UTC(),
			TriggeredBy:  "api",
		})
		return err
	}

	stockHandler := stock.NewHandler(logger, recorder, querySvc, validator, catalogRepo, scheduleSync)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		StockHandler: stockHandler,
		JobHandler:   jobHandler,
		Pool:         dbpool,
		Redis:        redisClient,
		Metrics:      metrics,
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
