package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/settlement-backend/api/routes"
	"github.com/angelmondragon/settlement-backend/internal/cart"
	"github.com/angelmondragon/settlement-backend/internal/checkout"
	"github.com/angelmondragon/settlement-backend/internal/ledger"
	"github.com/angelmondragon/settlement-backend/internal/orders"
	"github.com/angelmondragon/settlement-backend/internal/pricing"
	product "github.com/angelmondragon/settlement-backend/internal/products"
	"github.com/angelmondragon/settlement-backend/internal/settlement"
	"github.com/angelmondragon/settlement-backend/internal/users"
	paymobwebhook "github.com/angelmondragon/settlement-backend/internal/webhooks/paymob"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/instance"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/metrics"
	"github.com/angelmondragon/settlement-backend/pkg/migrate"
	"github.com/angelmondragon/settlement-backend/pkg/outbox"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
	"github.com/angelmondragon/settlement-backend/pkg/redis"
)

const (
	webhookIdempotencyScope = "paymob-webhook"
	shutdownTimeout         = 20 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gatewayMetrics := metrics.NewGatewayMetrics(registry)
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	catalog, err := product.NewService(product.NewRepository(dbClient.DB()))
	requireComponent(logg, "product catalog", err)

	engine, err := pricing.NewEngine(cfg.Pricing, catalog)
	requireComponent(logg, "pricing engine", err)

	buyers := users.NewRepository(dbClient.DB())

	cartStore, err := cart.NewRedisStore(redisClient, cfg.Cart.TTL)
	requireComponent(logg, "cart store", err)
	cartService, err := cart.NewService(cartStore, redisClient, catalog, engine, redisClient, logg)
	requireComponent(logg, "cart service", err)

	paymobClient, err := paymob.NewClient(cfg.Paymob, logg)
	requireComponent(logg, "paymob client", err)

	checkoutService, err := checkout.NewService(cartService, buyers, engine, paymobClient, gatewayMetrics, logg, checkout.Options{
		AllowBillingDefaults: cfg.Paymob.AllowBillingDefaults,
		ShippingMethod:       cfg.Paymob.ShippingMethodDefault,
	})
	requireComponent(logg, "checkout service", err)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	requireComponent(logg, "ledger service", err)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	orderStore, err := orders.NewStore(orders.NewRepository(dbClient.DB()), dbClient, ledgerService, outboxService)
	requireComponent(logg, "order store", err)

	reconciler, err := settlement.NewReconciler(settlement.Params{
		Carts:   cartService,
		Quotes:  engine,
		Buyers:  buyers,
		Orders:  orderStore,
		Locks:   redisClient,
		Metrics: settlementMetrics,
		Logger:  logg,
		Options: settlement.Options{
			WebhookConfirmation: cfg.Settlement.WebhookConfirmed(),
			RequireSignature:    cfg.Settlement.RequireSignedRedirect,
			HMACSecret:          cfg.Paymob.HMACSecret,
			LockTTL:             cfg.Settlement.LockTTL,
			LatchTTL:            cfg.Settlement.LatchTTL,
		},
	})
	requireComponent(logg, "settlement reconciler", err)

	webhookService, err := paymobwebhook.NewService(paymobwebhook.ServiceParams{
		Orders:  orderStore,
		Metrics: settlementMetrics,
		Logger:  logg,
	})
	requireComponent(logg, "paymob webhook service", err)
	webhookGuard, err := paymobwebhook.NewIdempotencyGuard(redisClient, cfg.Settlement.WebhookIdempotencyTTL, webhookIdempotencyScope)
	requireComponent(logg, "paymob webhook guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.ID("api"),
		"confirmation": cfg.Settlement.ConfirmationMode,
	})
	logg.Info(ctx, "starting api server")

	handler := routes.NewRouter(
		cfg,
		logg,
		dbClient,
		redisClient,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		catalog,
		cartService,
		checkoutService,
		reconciler,
		orderStore,
		settlementMetrics,
		paymobClient,
		webhookService,
		webhookGuard,
	)

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           handler,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func requireComponent(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name, err)
	os.Exit(1)
}
