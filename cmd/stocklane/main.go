package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
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
	"github.com/stocklane/stocklane/migrations"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	goose.SetBaseFS(migrations.FS)
	return goose.Up(sqlDB, ".")
}

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

	if err := runMigrations(cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

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
	validate := validator.New()

	auditLogger := shared.NewAuditLogger(pool)
	numbers := shared.NewNumberAllocator(pool)
	idemStore := shared.NewIdempotencyStore(pool)
	operatorAuth := shared.NewOperatorAuthenticator(pool)

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

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	service := stocktake.NewService(stocktake.ServiceParams{
		Repo:         stockTakeRepo,
		Sessions:     sessions,
		Catalog:      catalogRepo,
		Ledger:       ledgerPort,
		Orchestrator: orchestrator,
		Generator:    generator,
		Numbers:      numbers,
		Audit:        auditLogger,
		Integration:  jobsClient,
		Metrics:      metrics,
		Logger:       logger,
		Config:       engineCfg,
	})

	stockTakeHandler := stocktake.NewHandler(logger, service, validate)
	adjustmentHandler := adjustment.NewHandler(logger, adjustmentRepo)
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	queueHandler := jobs.NewQueueHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		OperatorAuth:      operatorAuth,
		StockTakeHandler:  stockTakeHandler,
		AdjustmentHandler: adjustmentHandler,
		QueueHandler:      queueHandler,
		Metrics:           metrics,
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
