package redsyswebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
	pkgerrors "github.com/mtorresdev/molino-backend/pkg/errors"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

type paramsCodec interface {
	DecodeMerchantParams(paramsB64 string) (*redsys.NotificationParams, error)
	VerifySignature(paramsB64, signatureB64 string) bool
}

type orderRepository interface {
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
}

// Notification is the signed triple the gateway delivers to the webhook.
type Notification struct {
	SignatureVersion   string
	MerchantParameters string
	Signature          string
}

// Outcome classifies how a notification was handled, for logging and metrics.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result reports the resolution applied to the ledger.
type Result struct {
	Outcome      Outcome
	GatewayOrder string
	Status       enums.PaymentStatus
	Context      enums.PaymentContext
}

type ServiceParams struct {
	Codec  paramsCodec
	Ledger ledger.Service
	Orders orderRepository
	Logger *logger.Logger
	Now    func() time.Time
}

type Service struct {
	codec  paramsCodec
	ledger ledger.Service
	orders orderRepository
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Codec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "codec required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		codec:  params.Codec,
		ledger: params.Ledger,
		orders: params.Orders,
		logg:   params.Logger,
		now:    now,
	}, nil
}

// HandleNotification runs the verify, locate, classify, update, side-effect
// sequence for one gateway callback. Every returned error is typed; the
// controller decides what surfaces on the wire.
func (s *Service) HandleNotification(ctx context.Context, notification Notification) (*Result, error) {
	if notification.MerchantParameters == "" || notification.Signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "missing signature or merchant parameters")
	}

	if !s.codec.VerifySignature(notification.MerchantParameters, notification.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "notification signature mismatch")
	}

	params, err := s.codec.DecodeMerchantParams(notification.MerchantParameters)
	if err != nil {
		return nil, err
	}
	if params.Order == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification missing order number")
	}

	tx, err := s.ledger.Find(ctx, params.Order)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "no transaction for gateway order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger lookup failed")
	}
	if tx.Status.IsTerminal() {
		return &Result{
			Outcome:      OutcomeDuplicate,
			GatewayOrder: tx.GatewayOrder,
			Status:       tx.Status,
			Context:      tx.Context,
		}, nil
	}

	status := classify(params.Response)
	fields := resolveFields(params)

	if err := s.ledger.Resolve(ctx, params.Order, status, fields); err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			// A concurrent delivery of the same order won the race.
			return &Result{
				Outcome:      OutcomeDuplicate,
				GatewayOrder: tx.GatewayOrder,
				Status:       tx.Status,
				Context:      tx.Context,
			}, nil
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "no transaction for gateway order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve transaction")
	}

	result := &Result{
		Outcome:      OutcomeProcessed,
		GatewayOrder: params.Order,
		Status:       status,
		Context:      tx.Context,
	}

	if status == enums.PaymentStatusAuthorized {
		s.applySideEffects(ctx, tx, result)
	}

	return result, nil
}

// applySideEffects runs after the first resolution to authorized. Failures
// here are logged and do not undo the ledger update.
func (s *Service) applySideEffects(ctx context.Context, tx *models.PaymentTransaction, result *Result) {
	ctx = s.logg.WithGatewayOrder(ctx, tx.GatewayOrder)
	switch tx.Context {
	case enums.PaymentContextShop:
		if tx.OrderID == nil {
			s.logg.Warn(ctx, "authorized shop transaction has no order reference")
			return
		}
		ctx = s.logg.WithField(ctx, "order_id", tx.OrderID.String())
		if err := s.orders.MarkPaid(ctx, *tx.OrderID, s.now()); err != nil {
			s.logg.Error(ctx, "mark shop order paid failed", err)
		}
	case enums.PaymentContextMembership:
		// Subscription activation happened synchronously at checkout; the
		// callback is a secondary confirmation.
		s.logg.Info(ctx, "membership payment confirmed by gateway callback")
	}
}

// classify maps a gateway response code onto a terminal ledger status.
func classify(responseCode string) enums.PaymentStatus {
	if _, ok := redsys.ParseResponseCode(responseCode); !ok {
		return enums.PaymentStatusError
	}
	if redsys.IsSuccessResponse(responseCode) {
		return enums.PaymentStatusAuthorized
	}
	return enums.PaymentStatusDenied
}

func resolveFields(params *redsys.NotificationParams) ledger.ResolveFields {
	fields := ledger.ResolveFields{}
	if params.Response != "" {
		fields.ResponseCode = &params.Response
	}
	if params.AuthorisationCode != "" {
		fields.AuthorizationCode = &params.AuthorisationCode
	}
	if params.CardBrand != "" {
		fields.CardBrand = &params.CardBrand
	}
	if params.CardCountry != "" {
		fields.CardCountry = &params.CardCountry
	}
	if last := params.LastFour(); last != "" {
		fields.LastFour = &last
	}
	if params.MerchantIdentifier != "" {
		fields.RecurringToken = &params.MerchantIdentifier
	}
	if params.CofTxnid != "" {
		fields.CofTransactionID = &params.CofTxnid
	}
	return fields
}
