package payments

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mtorresdev/molino-backend/api/responses"
	"github.com/mtorresdev/molino-backend/api/validators"
	"github.com/mtorresdev/molino-backend/internal/renewals"
	"github.com/mtorresdev/molino-backend/pkg/config"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

// maxRunLimit caps how many subscriptions a single triggered pass may charge.
const maxRunLimit = 500

// RecurringRun triggers a renewal pass. The caller is an external scheduler
// authenticating with a shared secret; per-item failures come back in the
// JSON summary rather than the status code.
func RecurringRun(service *renewals.Service, recurring config.RecurringConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if recurring.Secret == "" {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeConfig, "recurring secret is not configured"))
			return
		}
		if !secretMatches(r, recurring.Secret) {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid recurring secret"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, maxRunLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params := renewals.RunParams{
			DryRun: strings.EqualFold(r.URL.Query().Get("dry_run"), "true"),
			Limit:  limit,
		}

		summary, runErr := service.Run(ctx, params)
		if runErr != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.Wrap(pkgerrors.CodeInternal, runErr, "renewal run failed"))
			return
		}

		responses.WriteSuccess(w, summary)
	}
}

// secretMatches accepts the credential as a bearer token or a query param.
func secretMatches(r *http.Request, secret string) bool {
	candidate := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		candidate = strings.TrimPrefix(header, "Bearer ")
	}
	if candidate == "" {
		candidate = r.URL.Query().Get("secret")
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) == 1
}
