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

	"github.com/meridian-oms/meridian-oms/internal/app"
	"github.com/meridian-oms/meridian-oms/internal/catalog"
	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/events"
	"github.com/meridian-oms/meridian-oms/internal/fulfillment"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/observability"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/payments"
	"github.com/meridian-oms/meridian-oms/internal/platform/cache"
	"github.com/meridian-oms/meridian-oms/internal/platform/db"
	"github.com/meridian-oms/meridian-oms/internal/returns"
	"github.com/meridian-oms/meridian-oms/internal/shared"
	"github.com/meridian-oms/meridian-oms/jobs"
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
		logger.Warn("redis unavailable, caching and events degraded", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	publisher := events.NewRedisPublisher(redisClient, logger)
	locker := shared.NewLocker(redisClient, cfg.OrderLockTTL)
	auditLogger := shared.NewAuditLogger(dbpool)
	readCache := cache.NewReadThrough(redisClient, cfg.CacheTTL, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	alerts := &jobs.LowStockNotifier{Client: jobsClient, Logger: logger}

	catalogRepo := catalog.NewRepository(dbpool)
	clientRepo := clients.NewRepository(dbpool)
	orderRepo := orders.NewRepository(dbpool)
	deliveryRepo := fulfillment.NewDeliveryRepository(dbpool)
	invoiceRepo := fulfillment.NewInvoiceRepository(dbpool)
	paymentRepo := payments.NewRepository(dbpool)
	returnRepo := returns.NewRepository(dbpool)

	stockLedger := inventory.NewLedger(inventory.NewRepository(dbpool), publisher, alerts, metrics, logger,
		inventory.LedgerConfig{LowStockThreshold: cfg.LowStockThreshold})

	paymentService := payments.NewService(payments.Deps{
		Logger:    logger,
		Orders:    orderRepo,
		Payments:  paymentRepo,
		Clients:   clientRepo,
		Invoices:  invoiceRepo,
		Locks:     locker,
		Publisher: publisher,
		Cache:     readCache,
		Metrics:   metrics,
	})

	fulfillmentService := fulfillment.NewService(fulfillment.Deps{
		Logger:     logger,
		Orders:     orderRepo,
		Deliveries: deliveryRepo,
		Invoices:   invoiceRepo,
		Catalog:    catalogRepo,
		Clients:    clientRepo,
		Ledger:     stockLedger,
		Payments:   paymentService,
		Locks:      locker,
		Publisher:  publisher,
		Audit:      auditLogger,
		Cache:      readCache,
		Metrics:    metrics,
	})

	returnService := returns.NewService(returns.Deps{
		Logger:    logger,
		Orders:    orderRepo,
		Returns:   returnRepo,
		Ledger:    stockLedger,
		Clients:   clientRepo,
		Refunds:   paymentService,
		Locks:     locker,
		Publisher: publisher,
		Audit:     auditLogger,
		Cache:     readCache,
		Metrics:   metrics,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		CatalogHandler:     catalog.NewHandler(logger, catalogRepo),
		ClientHandler:      clients.NewHandler(logger, clientRepo),
		OrderHandler:       orders.NewHandler(logger, orderRepo, readCache),
		FulfillmentHandler: fulfillment.NewHandler(logger, fulfillmentService),
		PaymentHandler:     payments.NewHandler(logger, paymentService),
		ReturnHandler:      returns.NewHandler(logger, returnService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
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
