package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtorresdev/molino-backend/pkg/enums"
)

// Subscription persists the membership billing state per user.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	Amount             decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency           string                   `gorm:"column:currency;size:3;not null;default:'978'"`
	PeriodMonths       int                      `gorm:"column:period_months;not null;default:1"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time                `gorm:"column:current_period_end;not null"`
	NextRenewalAt      *time.Time               `gorm:"column:next_renewal_at;index"`
	RecurringToken     *string                  `gorm:"column:recurring_token"`
	CofTransactionID   *string                  `gorm:"column:cof_transaction_id"`
	FailedAttempts     int                      `gorm:"column:failed_attempts;not null;default:0"`
	LastFailedAt       *time.Time               `gorm:"column:last_failed_at"`
	CanceledAt         *time.Time               `gorm:"column:canceled_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
