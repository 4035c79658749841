package webhooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mtorresdev/molino-backend/api/validators"
	redsyswebhook "github.com/mtorresdev/molino-backend/internal/webhooks/redsys"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
	"github.com/mtorresdev/molino-backend/pkg/logger"
	"github.com/mtorresdev/molino-backend/pkg/metrics"
)

type notificationPayload struct {
	SignatureVersion   string `json:"Ds_SignatureVersion" validate:"required"`
	MerchantParameters string `json:"Ds_MerchantParameters" validate:"required"`
	Signature          string `json:"Ds_Signature" validate:"required"`
}

type ackBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RedsysNotification handles the gateway's payment callbacks. The gateway
// treats any non-200 as a delivery failure and retries aggressively, so this
// endpoint acknowledges with 200 no matter what went wrong and leaves the
// anomaly in the logs.
func RedsysNotification(service *redsyswebhook.Service, paymentMetrics *metrics.PaymentMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// The always-200 contract covers panics too: a 500 from the outer
		// recoverer would put the gateway into its retry loop.
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				logg.Error(logg.WithFields(ctx, map[string]any{"panic": rec}), "gateway notification handler panicked", err)
				countNotification(paymentMetrics, "error")
				writeAck(w, ackBody{Status: "error"})
			}
		}()

		notification, err := parseNotification(r)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "parse_error", err.Error()), "unreadable gateway notification")
			countNotification(paymentMetrics, "malformed")
			writeAck(w, ackBody{Status: "error", Message: "unreadable notification"})
			return
		}

		result, err := service.HandleNotification(ctx, notification)
		if err != nil {
			outcome := "error"
			if typed := pkgerrors.As(err); typed != nil {
				switch typed.Code() {
				case pkgerrors.CodeValidation:
					outcome = "malformed"
				case pkgerrors.CodeSignature:
					outcome = "invalid_signature"
				case pkgerrors.CodeNotFound:
					outcome = "unknown_order"
				}
			}
			logg.Error(logg.WithField(ctx, "outcome", outcome), "gateway notification rejected", err)
			countNotification(paymentMetrics, outcome)
			writeAck(w, ackBody{Status: "error"})
			return
		}

		countNotification(paymentMetrics, string(result.Outcome))
		logCtx := logg.WithFields(logg.WithGatewayOrder(ctx, result.GatewayOrder), map[string]any{
			"outcome": string(result.Outcome),
			"status":  string(result.Status),
			"context": string(result.Context),
		})
		logg.Info(logCtx, "gateway notification processed")
		writeAck(w, ackBody{Status: "ok"})
	}
}

// parseNotification accepts the triple as form-urlencoded fields or as a JSON
// body, the two delivery formats the gateway can be configured to send.
func parseNotification(r *http.Request) (redsyswebhook.Notification, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var payload notificationPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return redsyswebhook.Notification{}, err
		}
		return redsyswebhook.Notification{
			SignatureVersion:   payload.SignatureVersion,
			MerchantParameters: payload.MerchantParameters,
			Signature:          payload.Signature,
		}, nil
	}

	if err := r.ParseForm(); err != nil {
		return redsyswebhook.Notification{}, err
	}
	return redsyswebhook.Notification{
		SignatureVersion:   r.Form.Get("Ds_SignatureVersion"),
		MerchantParameters: r.Form.Get("Ds_MerchantParameters"),
		Signature:          r.Form.Get("Ds_Signature"),
	}, nil
}

func countNotification(paymentMetrics *metrics.PaymentMetrics, outcome string) {
	if paymentMetrics != nil {
		paymentMetrics.IncNotification(outcome)
	}
}

func writeAck(w http.ResponseWriter, body ackBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
