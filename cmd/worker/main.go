package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/parceldesk/parceldesk/internal/app"
	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/catalog"
	jobmetrics "github.com/parceldesk/parceldesk/internal/jobs"
	"github.com/parceldesk/parceldesk/internal/observability"
	"github.com/parceldesk/parceldesk/internal/platform/cache"
	"github.com/parceldesk/parceldesk/internal/platform/db"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/returns"
	"github.com/parceldesk/parceldesk/internal/shipments"
	"github.com/parceldesk/parceldesk/internal/stock"
	carriersync "github.com/parceldesk/parceldesk/internal/sync"
	"github.com/parceldesk/parceldesk/internal/tenants"
	"github.com/parceldesk/parceldesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

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
		logger.Warn("redis unavailable, pricing cache disabled", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	carrierClient := carrier.NewClient(cfg.CarrierAPIURL, cfg.CarrierTimeout, logger)

	tenantRepo := tenants.NewRepository(pool)
	tenantService := tenants.NewService(tenantRepo, logger, carrier.Credentials{
		APIKey: cfg.CarrierAPIKey,
		Secret: cfg.CarrierSecret,
	})

	shipmentRepo := shipments.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, catalogRepo, metrics, logger)

	ruleCache := pricing.NewRuleCache(redisClient, cfg.PricingCacheTTL)
	pricingRepo := pricing.NewRepository(pool)
	pricingService := pricing.NewService(pricingRepo, shipmentRepo, ruleCache, nil, logger)

	shipmentService := shipments.NewService(shipmentRepo, carrierClient, tenantService, pricingService, logger)

	returnRepo := returns.NewRepository(pool)
	returnService := returns.NewService(returnRepo, shipmentRepo, stockService, logger)

	syncRepo := carriersync.NewRepository(pool)
	syncService := carriersync.NewService(syncRepo, tenantService, carrierClient, shipmentService, returnService, stockService, metrics, logger)

	recalculator := stock.NewRecalculator(stockService, shipmentRepo, logger)

	taskMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	carrierJob := jobs.NewCarrierSyncJob(syncService, logger, taskMetrics)
	returnsJob := jobs.NewReturnsSyncJob(syncService, logger, taskMetrics)
	recalcJob := jobs.NewStockRecalcJob(tenantService, recalculator, logger, taskMetrics)

	carrierTask, err := jobs.NewCarrierSyncTask()
	if err != nil {
		logger.Error("build carrier sync task", slog.Any("error", err))
		os.Exit(1)
	}
	returnsTask, err := jobs.NewReturnsSyncTask()
	if err != nil {
		logger.Error("build returns sync task", slog.Any("error", err))
		os.Exit(1)
	}
	recalcTask, err := jobs.NewStockRecalcTask(0)
	if err != nil {
		logger.Error("build stock recalc task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCarrierSync, Handler: carrierJob.Handle},
			{Type: jobs.TaskReturnsSync, Handler: returnsJob.Handle},
			{Type: jobs.TaskStockRecalc, Handler: recalcJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: carrierTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: returnsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: recalcTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
