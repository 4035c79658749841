package subscriptions

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

// ErrNotFound signals the subscription does not exist.
var ErrNotFound = errors.New("subscription not found")

// Repository manages persistence for membership subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	FindExpiredCanceled(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	AdvancePeriod(ctx context.Context, id uuid.UUID, from time.Time) error
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) error
	Expire(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.DB(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindDueForRenewal selects active subscriptions whose renewal moment has
// passed, oldest first so a capped batch drains the backlog in order. Only
// tokenized subscriptions qualify; a row without a recurring token cannot be
// charged unattended.
func (r *repository) FindDueForRenewal(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.DB(ctx).
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("next_renewal_at IS NOT NULL AND next_renewal_at <= ?", now).
		Where("recurring_token IS NOT NULL").
		Order("next_renewal_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// FindExpiredCanceled selects canceled subscriptions whose paid period has
// run out. They keep access until current_period_end per the cancellation
// contract, then flip to expired.
func (r *repository) FindExpiredCanceled(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.DB(ctx).
		Where("status = ?", enums.SubscriptionStatusCanceled).
		Where("current_period_end <= ?", now).
		Order("current_period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// AdvancePeriod moves the billing window forward one period after a
// successful charge and clears the failure counter.
func (r *repository) AdvancePeriod(ctx context.Context, id uuid.UUID, from time.Time) error {
	sub, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	months := sub.PeriodMonths
	if months <= 0 {
		months = 1
	}
	start := sub.CurrentPeriodEnd
	if start.Before(from) {
		start = from
	}
	end := start.AddDate(0, months, 0)

	return r.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_period_start": start,
			"current_period_end":   end,
			"next_renewal_at":      end,
			"failed_attempts":      0,
			"last_failed_at":       nil,
		}).Error
}

func (r *repository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_attempts": gorm.Expr("failed_attempts + 1"),
			"last_failed_at":  at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel stops future renewals. The subscription stays usable until the end
// of the already-paid period.
func (r *repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":          enums.SubscriptionStatusCanceled,
			"canceled_at":     at,
			"next_renewal_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Expire(ctx context.Context, id uuid.UUID) error {
	res := r.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusCanceled).
		Update("status", enums.SubscriptionStatusExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
