package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mtorresdev/molino-backend/internal/repo"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
)

// ErrNotFound signals the shop order does not exist.
var ErrNotFound = errors.New("shop order not found")

// Repository exposes the slice of shop orders the payments layer touches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a shop order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ShopOrder, error) {
	var order models.ShopOrder
	err := r.DB(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkPaid flips a pending order to paid. Already-paid orders are a no-op so
// replayed notifications do not move paid_at.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) error {
	res := r.DB(ctx).
		Model(&models.ShopOrder{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusPendingPayment).
		Updates(map[string]any{
			"status":  enums.OrderStatusPaid,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.DB(ctx).
		Model(&models.ShopOrder{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
