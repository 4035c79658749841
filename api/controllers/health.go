package controllers

import (
	"context"
	"net/http"

	"github.com/mtorresdev/molino-backend/api/responses"
	"github.com/mtorresdev/molino-backend/pkg/config"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

// Pinger is any dependency that can report liveness of its backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Molino-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every backing dependency before reporting ready.
func HealthReady(cfg *config.Config, logg *logger.Logger, pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Molino-Env", cfg.App.Env)

		checks := make(map[string]string, len(pingers))
		for name, pinger := range pingers {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(r.Context()); err != nil {
				checks[name] = "down"
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
			checks[name] = "up"
		}

		responses.WriteSuccess(w, map[string]any{
			"status": "ready",
			"checks": checks,
		})
	}
}
