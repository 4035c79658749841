package renewals

import (
	"context"
	"fmt"
	"time"

	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
	"github.com/mtorresdev/molino-backend/pkg/logger"
	"github.com/mtorresdev/molino-backend/pkg/metrics"
)

type gatewayClient interface {
	ChargeWithToken(ctx context.Context, req redsys.ChargeRequest) (*redsys.ChargeResponse, error)
}

// RunParams controls one renewal pass.
type RunParams struct {
	DryRun bool
	Limit  int
}

// ItemResult records the outcome of a single renewal attempt.
type ItemResult struct {
	SubscriptionID string `json:"subscription_id"`
	GatewayOrder   string `json:"gateway_order,omitempty"`
	Outcome        string `json:"outcome"`
	ResponseCode   string `json:"response_code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RunSummary aggregates a renewal pass. Results carries per-item detail and
// is populated only on dry runs and outside production.
type RunSummary struct {
	ProcessedAt    time.Time    `json:"processed_at"`
	DryRun         bool         `json:"dry_run"`
	TotalDue       int          `json:"total_due"`
	TotalProcessed int          `json:"total_processed"`
	TotalSucceeded int          `json:"total_succeeded"`
	TotalFailed    int          `json:"total_failed"`
	TotalSkipped   int          `json:"total_skipped"`
	Results        []ItemResult `json:"results,omitempty"`
}

const (
	outcomeSucceeded = "succeeded"
	outcomeDeclined  = "declined"
	outcomeError     = "error"
	outcomeSkipped   = "skipped"
)

type ServiceParams struct {
	Subscriptions subscriptions.Repository
	Ledger        ledger.Service
	Gateway       gatewayClient
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
	Recurring     config.RecurringConfig
	Production    bool
	Now           func() time.Time
	NewOrder      func(now time.Time) (string, error)
}

// Service drives merchant-initiated renewal charges for due subscriptions.
type Service struct {
	subs       subscriptions.Repository
	ledger     ledger.Service
	gateway    gatewayClient
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics
	recurring  config.RecurringConfig
	production bool
	now        func() time.Time
	newOrder   func(now time.Time) (string, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	newOrder := params.NewOrder
	if newOrder == nil {
		newOrder = redsys.NewOrderNumber
	}
	return &Service{
		subs:       params.Subscriptions,
		ledger:     params.Ledger,
		gateway:    params.Gateway,
		logg:       params.Logger,
		metrics:    params.Metrics,
		recurring:  params.Recurring,
		production: params.Production,
		now:        now,
		newOrder:   newOrder,
	}, nil
}

// Run selects due subscriptions and attempts one charge each. Failures are
// isolated per item; the batch always runs to completion.
func (s *Service) Run(ctx context.Context, params RunParams) (*RunSummary, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = s.recurring.DefaultLimit
	}
	if limit <= 0 {
		limit = 50
	}

	now := s.now()
	due, err := s.subs.FindDueForRenewal(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due subscriptions: %w", err)
	}

	summary := &RunSummary{
		ProcessedAt: now,
		DryRun:      params.DryRun,
		TotalDue:    len(due),
	}
	includeResults := params.DryRun || !s.production

	for i := range due {
		sub := &due[i]
		itemCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())

		var item ItemResult
		if params.DryRun {
			item = ItemResult{SubscriptionID: sub.ID.String(), Outcome: outcomeSkipped}
			summary.TotalSkipped++
		} else {
			item = s.attempt(itemCtx, sub)
			summary.TotalProcessed++
			switch item.Outcome {
			case outcomeSucceeded:
				summary.TotalSucceeded++
			default:
				summary.TotalFailed++
			}
		}
		if includeResults {
			summary.Results = append(summary.Results, item)
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"total_due":       summary.TotalDue,
		"total_processed": summary.TotalProcessed,
		"total_succeeded": summary.TotalSucceeded,
		"total_failed":    summary.TotalFailed,
		"total_skipped":   summary.TotalSkipped,
		"dry_run":         summary.DryRun,
	}), "renewal run complete")

	return summary, nil
}

// attempt performs one renewal charge. Every attempt gets a fresh gateway
// order and its own pending ledger row; a prior order id is never reused.
func (s *Service) attempt(ctx context.Context, sub *models.Subscription) ItemResult {
	item := ItemResult{SubscriptionID: sub.ID.String()}

	if sub.RecurringToken == nil || *sub.RecurringToken == "" {
		item.Outcome = outcomeError
		item.Error = "subscription has no recurring token"
		s.logg.Warn(ctx, "due subscription has no recurring token")
		return item
	}

	now := s.now()
	order, err := s.newOrder(now)
	if err != nil {
		item.Outcome = outcomeError
		item.Error = err.Error()
		s.logg.Error(ctx, "generate gateway order failed", err)
		return item
	}
	item.GatewayOrder = order
	ctx = s.logg.WithGatewayOrder(ctx, order)

	tx := &models.PaymentTransaction{
		GatewayOrder:   order,
		Context:        enums.PaymentContextMembership,
		Status:         enums.PaymentStatusPending,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		SubscriptionID: &sub.ID,
	}
	if err := s.ledger.Record(ctx, tx); err != nil {
		item.Outcome = outcomeError
		item.Error = err.Error()
		s.logg.Error(ctx, "record pending transaction failed", err)
		return item
	}

	chargeCtx := ctx
	if s.recurring.ChargeTimeout > 0 {
		var cancel context.CancelFunc
		chargeCtx, cancel = context.WithTimeout(ctx, s.recurring.ChargeTimeout)
		defer cancel()
	}

	req := redsys.ChargeRequest{
		Order:          order,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		RecurringToken: *sub.RecurringToken,
	}
	if sub.CofTransactionID != nil {
		req.CofTxnid = *sub.CofTransactionID
	}

	resp, err := s.gateway.ChargeWithToken(chargeCtx, req)
	if err != nil {
		s.resolveQuietly(ctx, order, enums.PaymentStatusError, ledger.ResolveFields{})
		s.recordFailure(ctx, sub)
		s.countCharge(outcomeError)
		item.Outcome = outcomeError
		item.Error = err.Error()
		s.logg.Error(ctx, "renewal charge failed", err)
		return item
	}

	fields := chargeResolveFields(resp)
	item.ResponseCode = resp.ResponseCode

	if !resp.Authorized() {
		s.resolveQuietly(ctx, order, enums.PaymentStatusDenied, fields)
		s.recordFailure(ctx, sub)
		s.countCharge(outcomeDeclined)
		item.Outcome = outcomeDeclined
		s.logg.Warn(ctx, "renewal charge declined")
		return item
	}

	s.resolveQuietly(ctx, order, enums.PaymentStatusAuthorized, fields)
	if err := s.subs.AdvancePeriod(ctx, sub.ID, now); err != nil {
		// The charge went through; the period advance must be retried out of
		// band rather than re-charging.
		s.logg.Error(ctx, "advance subscription period failed", err)
		item.Outcome = outcomeError
		item.Error = err.Error()
		s.countCharge(outcomeError)
		return item
	}

	s.countCharge(outcomeSucceeded)
	item.Outcome = outcomeSucceeded
	return item
}

// resolveQuietly applies the synchronous verdict to the ledger. The async
// notification may have resolved the row first; that race is benign.
func (s *Service) resolveQuietly(ctx context.Context, order string, status enums.PaymentStatus, fields ledger.ResolveFields) {
	if err := s.ledger.Resolve(ctx, order, status, fields); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "resolve_error", err.Error()), "resolve from charge response skipped")
	}
}

func (s *Service) recordFailure(ctx context.Context, sub *models.Subscription) {
	if err := s.subs.RecordFailedAttempt(ctx, sub.ID, s.now()); err != nil {
		s.logg.Error(ctx, "record failed renewal attempt failed", err)
		return
	}

	threshold := s.recurring.DunningThreshold
	if threshold <= 0 {
		return
	}
	if sub.FailedAttempts+1 < threshold {
		return
	}
	if err := s.subs.Cancel(ctx, sub.ID, s.now()); err != nil {
		s.logg.Error(ctx, "cancel subscription after repeated failures failed", err)
		return
	}
	s.logg.Warn(ctx, "subscription canceled after repeated renewal failures")
}

func (s *Service) countCharge(outcome string) {
	if s.metrics != nil {
		s.metrics.IncCharge(outcome)
	}
}

func chargeResolveFields(resp *redsys.ChargeResponse) ledger.ResolveFields {
	fields := ledger.ResolveFields{}
	if resp.ResponseCode != "" {
		fields.ResponseCode = &resp.ResponseCode
	}
	if resp.AuthorisationCode != "" {
		fields.AuthorizationCode = &resp.AuthorisationCode
	}
	if resp.CardBrand != "" {
		fields.CardBrand = &resp.CardBrand
	}
	if resp.CardCountry != "" {
		fields.CardCountry = &resp.CardCountry
	}
	if resp.LastFour != "" {
		fields.LastFour = &resp.LastFour
	}
	if resp.CofTxnid != "" {
		fields.CofTransactionID = &resp.CofTxnid
	}
	return fields
}
