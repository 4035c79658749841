package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mtorresdev/molino-backend/pkg/enums"
)

// ShopOrder is the shop-side order the payments layer marks paid. The rest of
// the order lifecycle lives outside this service.
type ShopOrder struct {
	ID        uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status    enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending_payment'"`
	Total     decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	Currency  string            `gorm:"column:currency;size:3;not null;default:'978'"`
	PaidAt    *time.Time        `gorm:"column:paid_at"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
