package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mtorresdev/molino-backend/api/routes"
	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/orders"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	"github.com/mtorresdev/molino-backend/internal/renewals"
	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	redsyswebhook "github.com/mtorresdev/molino-backend/internal/webhooks/redsys"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/db"
	"github.com/mtorresdev/molino-backend/pkg/logger"
	"github.com/mtorresdev/molino-backend/pkg/metrics"
	"github.com/mtorresdev/molino-backend/pkg/migrate"
	"github.com/mtorresdev/molino-backend/pkg/redis"
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

	webhookSvc, err := redsyswebhook.NewService(redsyswebhook.ServiceParams{
		Codec:  codec,
		Ledger: ledgerSvc,
		Orders: orders.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	renewalSvc, err := renewals.NewService(renewals.ServiceParams{
		Subscriptions: subscriptions.NewRepository(dbClient.DB()),
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DBPinger:       dbClient,
			RedisPinger:    redisClient,
			Webhook:        webhookSvc,
			Renewals:       renewalSvc,
			PaymentMetrics: paymentMetrics,
			Registry:       registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
