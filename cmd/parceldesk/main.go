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
	"github.com/joho/godotenv"

	"github.com/parceldesk/parceldesk/internal/app"
	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/catalog"
	"github.com/parceldesk/parceldesk/internal/importer"
	"github.com/parceldesk/parceldesk/internal/observability"
	"github.com/parceldesk/parceldesk/internal/platform/cache"
	"github.com/parceldesk/parceldesk/internal/platform/db"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/returns"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/shipments"
	"github.com/parceldesk/parceldesk/internal/stock"
	carriersync "github.com/parceldesk/parceldesk/internal/sync"
	"github.com/parceldesk/parceldesk/internal/tenants"
	"github.com/parceldesk/parceldesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	auditLogger := shared.NewAuditLogger(pool)

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
	catalogService := catalog.NewService(catalogRepo, stockService, logger)

	ruleCache := pricing.NewRuleCache(redisClient, cfg.PricingCacheTTL)
	pricingRepo := pricing.NewRepository(pool)
	pricingService := pricing.NewService(pricingRepo, shipmentRepo, ruleCache, auditLogger, logger)

	shipmentService := shipments.NewService(shipmentRepo, carrierClient, tenantService, pricingService, logger)

	returnRepo := returns.NewRepository(pool)
	returnService := returns.NewService(returnRepo, shipmentRepo, stockService, logger)

	syncRepo := carriersync.NewRepository(pool)
	syncService := carriersync.NewService(syncRepo, tenantService, carrierClient, shipmentService, returnService, stockService, metrics, logger)

	recalculator := stock.NewRecalculator(stockService, shipmentRepo, logger)
	stockReporter := stock.NewReporter(stockRepo, catalogRepo)

	csvImporter := importer.New(pricingService, catalogService, stockService, logger)

	syncHandler := carriersync.NewHandler(logger, syncService, cfg.CronSecret)
	shipmentHandler := shipments.NewHandler(logger, shipmentService)
	returnHandler := returns.NewHandler(logger, returnService)
	stockHandler := stock.NewHandler(logger, stockService, stockReporter, recalculator, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)
	pricingHandler := pricing.NewHandler(logger, pricingService)
	importHandler := importer.NewHandler(logger, csvImporter)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		TokenResolver:    tenantService,
		SyncHandler:      syncHandler,
		ShipmentsHandler: shipmentHandler,
		ReturnsHandler:   returnHandler,
		StockHandler:     stockHandler,
		CatalogHandler:   catalogHandler,
		PricingHandler:   pricingHandler,
		ImportHandler:    importHandler,
		JobHandler:       jobHandler,
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
