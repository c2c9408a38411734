package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/subosito/gotenv"

	"github.com/stocklane/stocklane/internal/adjustment"
	"github.com/stocklane/stocklane/internal/app"
	"github.com/stocklane/stocklane/internal/catalog"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/observability"
	"github.com/stocklane/stocklane/internal/platform/cache"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/stocktake"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	_ = gotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(pool)
	numbers := shared.NewNumberAllocator(pool)
	idemStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	stockTakeRepo := stocktake.NewRepository(pool)
	adjustmentRepo := adjustment.NewRepository(pool)
	sessions := stocktake.NewSessionStore(redisClient, cfg.SessionTTL)

	engineCfg := stocktake.Config{
		BatchTracking:  cfg.BatchTracking,
		ExpiryTracking: cfg.ExpiryTracking,
		Tolerance:      cfg.QtyTolerance,
		LedgerTimeout:  cfg.LedgerCallTimeout,
	}

	ledgerPort := stocktake.NewLedgerAdapter(ledgerRepo, metrics)
	matcher := stocktake.NewMatcher(ledgerPort, engineCfg)
	orchestrator := stocktake.NewOrchestrator(ledgerPort, matcher, stockTakeRepo, auditLogger, logger, engineCfg)
	generator := stocktake.NewAdjustmentGenerator(ledgerPort, stockTakeRepo, adjustmentRepo, numbers, idemStore, logger, engineCfg)

	service := stocktake.NewService(stocktake.ServiceParams{
		Repo:         stockTakeRepo,
		Sessions:     sessions,
		Catalog:      catalogRepo,
		Ledger:       ledgerPort,
		Orchestrator: orchestrator,
		Generator:    generator,
		Numbers:      numbers,
		Audit:        auditLogger,
		Metrics:      metrics,
		Logger:       logger,
		Config:       engineCfg,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeAdjustmentGenerate, Handler: jobs.NewAdjustmentGenerateHandler(service, logger)},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idemStore, cfg.IdempotencyRetain, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IdempotencyCronSpec, Task: jobs.NewIdempotencyCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
