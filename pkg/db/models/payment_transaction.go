package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtorresdev/molino-backend/pkg/enums"
)

// PaymentTransaction is the idempotency ledger for gateway payment attempts.
// Exactly one row exists per gateway order number; the row is created as
// pending when the charge is initiated and resolved at most once, by whichever
// of the synchronous response or the async notification arrives first.
type PaymentTransaction struct {
	ID                uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	GatewayOrder      string               `gorm:"column:gateway_order;size:12;not null;uniqueIndex"`
	Context           enums.PaymentContext `gorm:"column:context;type:payment_context;not null"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Amount            decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string               `gorm:"column:currency;size:3;not null;default:'978'"`
	OrderID           *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	SubscriptionID    *uuid.UUID           `gorm:"column:subscription_id;type:uuid;index"`
	ResponseCode      *string              `gorm:"column:response_code;size:4"`
	AuthorizationCode *string              `gorm:"column:authorization_code;size:6"`
	CardBrand         *string              `gorm:"column:card_brand"`
	CardCountry       *string              `gorm:"column:card_country"`
	LastFour          *string              `gorm:"column:last_four;size:4"`
	RecurringToken    *string              `gorm:"column:recurring_token"`
	CofTransactionID  *string              `gorm:"column:cof_transaction_id"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
