package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtorresdev/molino-backend/api/controllers"
	paymentcontrollers "github.com/mtorresdev/molino-backend/api/controllers/payments"
	webhookcontrollers "github.com/mtorresdev/molino-backend/api/controllers/webhooks"
	"github.com/mtorresdev/molino-backend/api/middleware"
	"github.com/mtorresdev/molino-backend/internal/renewals"
	redsyswebhook "github.com/mtorresdev/molino-backend/internal/webhooks/redsys"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/logger"
	"github.com/mtorresdev/molino-backend/pkg/metrics"
)

type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DBPinger       controllers.Pinger
	RedisPinger    controllers.Pinger
	Webhook        *redsyswebhook.Service
	Renewals       *renewals.Service
	PaymentMetrics *metrics.PaymentMetrics
	Registry       *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": params.DBPinger,
			"redis":    params.RedisPinger,
		}))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/notification", webhookcontrollers.RedsysNotification(params.Webhook, params.PaymentMetrics, logg))
		r.Get("/recurring", paymentcontrollers.RecurringRun(params.Renewals, cfg.Recurring, logg))
		r.Post("/recurring", paymentcontrollers.RecurringRun(params.Renewals, cfg.Recurring, logg))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
