package renewals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

func TestExpirerRun(t *testing.T) {
	db := setupRenewalsTestDB(t)
	repo := subscriptions.NewRepository(db)
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	seed := func(status enums.SubscriptionStatus, end time.Time) *models.Subscription {
		sub := &models.Subscription{
			ID:                 uuid.New(),
			UserID:             uuid.New(),
			Status:             status,
			Amount:             decimal.RequireFromString("9.99"),
			PeriodMonths:       1,
			CurrentPeriodStart: end.AddDate(0, -1, 0),
			CurrentPeriodEnd:   end,
		}
		require.NoError(t, db.Create(sub).Error)
		return sub
	}

	lapsed := seed(enums.SubscriptionStatusCanceled, now.Add(-time.Hour))
	stillPaid := seed(enums.SubscriptionStatusCanceled, now.Add(24*time.Hour))
	active := seed(enums.SubscriptionStatusActive, now.Add(-time.Hour))

	expirer, err := NewExpirer(ExpirerParams{
		Subscriptions: repo,
		Logger:        logger.New(logger.Options{ServiceName: "expirer-test"}),
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)

	count, err := expirer.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	expired, err := repo.FindByID(context.Background(), lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusExpired, expired.Status)

	untouched, err := repo.FindByID(context.Background(), stillPaid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, untouched.Status)

	stillActive, err := repo.FindByID(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, stillActive.Status)

	// Re-running is a no-op.
	count, err = expirer.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
