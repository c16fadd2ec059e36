package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/settlement-backend/internal/cron"
	"github.com/angelmondragon/settlement-backend/internal/ledger"
	"github.com/angelmondragon/settlement-backend/internal/orders"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/instance"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/metrics"
	"github.com/angelmondragon/settlement-backend/pkg/migrate"
	"github.com/angelmondragon/settlement-backend/pkg/outbox"
	"github.com/angelmondragon/settlement-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	boot := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(boot, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	fatalIf(logg, "load config", err)
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(boot, cfg.DB, logg)
	fatalIf(logg, "bootstrap database", err)
	defer closeQuietly(logg, "database", dbClient.Close)

	fatalIf(logg, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	fatalIf(logg, "bootstrap redis", err)
	defer closeQuietly(logg, "redis", redisClient.Close)

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := redis.NewLock(redisClient, redisClient.LockKey("cron", env), cfg.Cron.LockTTL)
	fatalIf(logg, "create cron lock", err)

	scheduler, err := cron.NewScheduler(cron.SchedulerParams{
		Logger:   logg,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
		Jobs:     buildJobs(cfg, logg, dbClient),
	})
	fatalIf(logg, "create cron scheduler", err)

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.ID(serviceKind),
	})
	logg.Info(ctx, "starting cron worker")

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the sweeps in the order they run each cycle.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) []cron.Job {
	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	fatalIf(logg, "create ledger service", err)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	orderStore, err := orders.NewStore(orders.NewRepository(dbClient.DB()), dbClient, ledgerService, outboxService)
	fatalIf(logg, "create order store", err)

	unpaid, err := cron.NewUnpaidOrderJob(cron.UnpaidOrderJobParams{
		Logger:     logg,
		DB:         dbClient,
		Orders:     orderStore,
		Outbox:     outboxService,
		StaleAfter: cfg.Cron.StaleAfter,
	})
	fatalIf(logg, "create unpaid order job", err)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Outbox:    outboxRepo,
		Retention: cfg.Outbox.Retention,
		Batch:     cfg.Outbox.PruneBatch,
	})
	fatalIf(logg, "create outbox retention job", err)

	return []cron.Job{unpaid, retention}
}

func fatalIf(logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to "+step, err)
	os.Exit(1)
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
