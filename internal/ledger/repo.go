package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/mtorresdev/molino-backend/internal/repo"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
)

var (
	// ErrNotFound signals there is no transaction for the gateway order.
	ErrNotFound = errors.New("payment transaction not found")
	// ErrAlreadyProcessed signals the row was already resolved. It is a
	// benign outcome under gateway retries, not a failure.
	ErrAlreadyProcessed = errors.New("payment transaction already processed")
)

// ResolveFields carries the gateway response data written alongside the
// status on first resolution. Nil fields are left untouched.
type ResolveFields struct {
	ResponseCode      *string
	AuthorizationCode *string
	CardBrand         *string
	CardCountry       *string
	LastFour          *string
	RecurringToken    *string
	CofTransactionID  *string
}

// Repository manages persistence for the payment transaction ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tx *models.PaymentTransaction) error
	FindByGatewayOrder(ctx context.Context, gatewayOrder string) (*models.PaymentTransaction, error)
	Resolve(ctx context.Context, gatewayOrder string, status enums.PaymentStatus, fields ResolveFields) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, tx *models.PaymentTransaction) error {
	return r.DB(ctx).Create(tx).Error
}

func (r *repository) FindByGatewayOrder(ctx context.Context, gatewayOrder string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.DB(ctx).
		Where("gateway_order = ?", gatewayOrder).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// Resolve performs the single atomic conditional update that guards the whole
// system against duplicate delivery: the row moves out of pending at most
// once, enforced by the WHERE clause rather than an application-level read.
func (r *repository) Resolve(ctx context.Context, gatewayOrder string, status enums.PaymentStatus, fields ResolveFields) error {
	updates := map[string]any{"status": status}
	if fields.ResponseCode != nil {
		updates["response_code"] = *fields.ResponseCode
	}
	if fields.AuthorizationCode != nil {
		updates["authorization_code"] = *fields.AuthorizationCode
	}
	if fields.CardBrand != nil {
		updates["card_brand"] = *fields.CardBrand
	}
	if fields.CardCountry != nil {
		updates["card_country"] = *fields.CardCountry
	}
	if fields.LastFour != nil {
		updates["last_four"] = *fields.LastFour
	}
	if fields.RecurringToken != nil {
		updates["recurring_token"] = *fields.RecurringToken
	}
	if fields.CofTransactionID != nil {
		updates["cof_transaction_id"] = *fields.CofTransactionID
	}

	res := r.DB(ctx).
		Model(&models.PaymentTransaction{}).
		Where("gateway_order = ? AND status = ?", gatewayOrder, enums.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.DB(ctx).
		Model(&models.PaymentTransaction{}).
		Where("gateway_order = ?", gatewayOrder).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrAlreadyProcessed
}
