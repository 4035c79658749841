package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mtorresdev/molino-backend/internal/cron"
	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	"github.com/mtorresdev/molino-backend/internal/renewals"
	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/db"
	"github.com/mtorresdev/molino-backend/pkg/logger"
	"github.com/mtorresdev/molino-backend/pkg/metrics"
	"github.com/mtorresdev/molino-backend/pkg/migrate"
	"github.com/mtorresdev/molino-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
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

	codec, err := redsys.NewCodec(cfg.Redsys)
	if err != nil {
		logg.Error(context.Background(), "failed to build gateway codec", err)
		os.Exit(1)
	}
	gateway, err := redsys.NewClient(cfg.Redsys, codec, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build gateway client", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	renewalSvc, err := renewals.NewService(renewals.ServiceParams{
		Subscriptions: subscriptionRepo,
		Ledger:        ledgerSvc,
		Gateway:       gateway,
		Logger:        logg,
		Metrics:       paymentMetrics,
		Recurring:     cfg.Recurring,
		Production:    cfg.App.IsProd(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal service", err)
		os.Exit(1)
	}

	expirer, err := renewals.NewExpirer(renewals.ExpirerParams{
		Subscriptions: subscriptionRepo,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expirer", err)
		os.Exit(1)
	}

	renewalJob, err := cron.NewRenewalJob(cron.RenewalJobParams{
		Logger:   logg,
		Renewals: renewalSvc,
		Limit:    cfg.Recurring.DefaultLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal job", err)
		os.Exit(1)
	}
	expiryJob, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:  logg,
		Expirer: expirer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(renewalJob, expiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
