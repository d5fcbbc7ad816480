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

	"github.com/samudra-erp/samudra-erp/internal/adjustment"
	"github.com/samudra-erp/samudra-erp/internal/app"
	"github.com/samudra-erp/samudra-erp/internal/inventory"
	"github.com/samudra-erp/samudra-erp/internal/observability"
	"github.com/samudra-erp/samudra-erp/internal/opname"
	"github.com/samudra-erp/samudra-erp/internal/platform/cache"
	"github.com/samudra-erp/samudra-erp/internal/platform/db"
	"github.com/samudra-erp/samudra-erp/internal/shared"
	"github.com/samudra-erp/samudra-erp/internal/stockview"
	"github.com/samudra-erp/samudra-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock view runs uncached", slog.Any("error", err))
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
	idempotency := shared.NewIdempotencyStore(pool)
	numbers := shared.NewFallbackNumberGenerator()

	viewCache := stockview.NewCache(redisClient, cfg.StockCacheTTL)

	inventoryRepo := inventory.NewRepository(pool, cfg.StockLockTimeout)
	stockService := inventory.NewService(inventoryRepo, auditLogger, viewCache)
	inventoryHandler := inventory.NewHandler(logger, stockService)

	workflowCfg := adjustment.ServiceConfig{CompleteRetries: cfg.StockCompleteRetries}
	adjustmentRepo := adjustment.NewRepository(pool, cfg.StockLockTimeout)
	adjustmentService := adjustment.NewService(adjustmentRepo, stockService, numbers, auditLogger, idempotency, workflowCfg)
	adjustmentHandler := adjustment.NewHandler(logger, adjustmentService)

	opnameRepo := opname.NewRepository(pool, cfg.StockLockTimeout)
	opnameService := opname.NewService(opnameRepo, stockService, numbers, auditLogger, idempotency,
		opname.ServiceConfig{CompleteRetries: cfg.StockCompleteRetries})
	opnameHandler := opname.NewHandler(logger, opnameService)

	viewRepo := stockview.NewRepository(pool)
	viewService := stockview.NewService(viewRepo, viewCache)
	viewHandler := stockview.NewHandler(logger, viewService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)
	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventoryHandler,
		AdjustmentHandler: adjustmentHandler,
		OpnameHandler:     opnameHandler,
		StockViewHandler:  viewHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
		Pool:              pool,
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
