package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkline-erp/arkline/internal/app"
	"github.com/arkline-erp/arkline/internal/delivery"
	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/masterdata"
	"github.com/arkline-erp/arkline/internal/masterdata/items"
	"github.com/arkline-erp/arkline/internal/masterdata/suppliers"
	"github.com/arkline-erp/arkline/internal/platform/cache"
	"github.com/arkline-erp/arkline/internal/platform/db"
	"github.com/arkline-erp/arkline/internal/procurement"
	"github.com/arkline-erp/arkline/internal/sales/proforma"
	"github.com/arkline-erp/arkline/internal/shared"
)

func main() {
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, inventory.ServiceConfig{})
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, inventoryService, auditLogger, idempotencyStore)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, inventoryService, auditLogger)
	deliveryHandler := delivery.NewHandler(logger, deliveryService)

	proformaRepo := proforma.NewRepository(pool)
	proformaService := proforma.NewService(proformaRepo, auditLogger)
	proformaHandler := proforma.NewHandler(logger, proformaService)

	masterCache := masterdata.NewCache(redisClient, cfg.MasterCacheTTL)
	itemsService := items.NewService(items.NewRepository(pool), masterCache)
	itemsHandler := items.NewHandler(logger, itemsService)
	suppliersService := suppliers.NewService(suppliers.NewRepository(pool))
	suppliersHandler := suppliers.NewHandler(logger, suppliersService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurementHandler,
		InventoryHandler:   inventoryHandler,
		DeliveryHandler:    deliveryHandler,
		ProformaHandler:    proformaHandler,
		ItemsHandler:       itemsHandler,
		SuppliersHandler:   suppliersHandler,
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
