package renewals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mtorresdev/molino-backend/internal/ledger"
	"github.com/mtorresdev/molino-backend/internal/redsys"
	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	"github.com/mtorresdev/molino-backend/pkg/config"
	"github.com/mtorresdev/molino-backend/pkg/db/models"
	"github.com/mtorresdev/molino-backend/pkg/enums"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

func setupRenewalsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT '978',
  period_months INTEGER NOT NULL DEFAULT 1,
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  next_renewal_at DATETIME,
  recurring_token TEXT,
  cof_transaction_id TEXT,
  failed_attempts INTEGER NOT NULL DEFAULT 0,
  last_failed_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  gateway_order TEXT NOT NULL UNIQUE,
  context TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT '978',
  order_id TEXT,
  subscription_id TEXT,
  response_code TEXT,
  authorization_code TEXT,
  card_brand TEXT,
  card_country TEXT,
  last_four TEXT,
  recurring_token TEXT,
  cof_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

type fakeGateway struct {
	calls     []redsys.ChargeRequest
	responses map[string]*redsys.ChargeResponse
	errs      map[string]error
}

func (f *fakeGateway) ChargeWithToken(_ context.Context, req redsys.ChargeRequest) (*redsys.ChargeResponse, error) {
	f.calls = append(f.calls, req)
	if err, ok := f.errs[req.RecurringToken]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.RecurringToken]; ok {
		return resp, nil
	}
	return &redsys.ChargeResponse{ResponseCode: "0000", AuthorisationCode: "111111"}, nil
}

type renewalsFixture struct {
	db      *gorm.DB
	subs    subscriptions.Repository
	ledger  ledger.Service
	gateway *fakeGateway
	now     time.Time
}

func newRenewalsFixture(t *testing.T) *renewalsFixture {
	t.Helper()
	db := setupRenewalsTestDB(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)
	return &renewalsFixture{
		db:      db,
		subs:    subscriptions.NewRepository(db),
		ledger:  ledgerSvc,
		gateway: &fakeGateway{responses: map[string]*redsys.ChargeResponse{}, errs: map[string]error{}},
		now:     time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *renewalsFixture) newService(t *testing.T, recurring config.RecurringConfig, production bool) *Service {
	t.Helper()
	var seq int
	svc, err := NewService(ServiceParams{
		Subscriptions: f.subs,
		Ledger:        f.ledger,
		Gateway:       f.gateway,
		Logger:        logger.New(logger.Options{ServiceName: "renewals-test"}),
		Recurring:     recurring,
		Production:    production,
		Now:           func() time.Time { return f.now },
		NewOrder: func(time.Time) (string, error) {
			seq++
			return fmt.Sprintf("2502%08d", seq), nil
		},
	})
	require.NoError(t, err)
	return svc
}

func (f *renewalsFixture) seedDue(t *testing.T, token string, failures int) *models.Subscription {
	t.Helper()
	end := f.now.Add(-time.Hour)
	sub := &models.Subscription{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		Status:             enums.SubscriptionStatusActive,
		Amount:             decimal.RequireFromString("9.99"),
		Currency:           "978",
		PeriodMonths:       1,
		CurrentPeriodStart: end.AddDate(0, -1, 0),
		CurrentPeriodEnd:   end,
		NextRenewalAt:      &end,
		RecurringToken:     &token,
		FailedAttempts:     failures,
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func TestRunRenewsDueSubscription(t *testing.T) {
	f := newRenewalsFixture(t)
	sub := f.seedDue(t, "tok-success", 0)
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50, ChargeTimeout: time.Second}, false)

	summary, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalDue)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 1, summary.TotalSucceeded)
	assert.Zero(t, summary.TotalFailed)
	assert.Zero(t, summary.TotalSkipped)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, outcomeSucceeded, summary.Results[0].Outcome)

	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, "tok-success", f.gateway.calls[0].RecurringToken)

	tx, err := f.ledger.Find(context.Background(), f.gateway.calls[0].Order)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusAuthorized, tx.Status)
	assert.Equal(t, enums.PaymentContextMembership, tx.Context)
	require.NotNil(t, tx.SubscriptionID)
	assert.Equal(t, sub.ID, *tx.SubscriptionID)

	renewed, err := f.subs.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, renewed.CurrentPeriodEnd.After(f.now))
	assert.Zero(t, renewed.FailedAttempts)
}

func TestRunRespectsLimit(t *testing.T) {
	f := newRenewalsFixture(t)
	for i := 0; i < 5; i++ {
		f.seedDue(t, fmt.Sprintf("tok-%d", i), 0)
	}
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	summary, err := svc.Run(context.Background(), RunParams{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalDue)
	assert.Equal(t, 2, summary.TotalProcessed)
	assert.Len(t, f.gateway.calls, 2)
}

func TestRunDryRunMutatesNothing(t *testing.T) {
	f := newRenewalsFixture(t)
	sub := f.seedDue(t, "tok-dry", 0)
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, true)

	summary, err := svc.Run(context.Background(), RunParams{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, summary.TotalDue, summary.TotalSkipped)
	assert.Zero(t, summary.TotalProcessed)
	assert.Empty(t, f.gateway.calls)
	// Dry runs report per-item detail even in production.
	require.Len(t, summary.Results, 1)
	assert.Equal(t, outcomeSkipped, summary.Results[0].Outcome)

	var txCount int64
	require.NoError(t, f.db.Model(&models.PaymentTransaction{}).Count(&txCount).Error)
	assert.Zero(t, txCount)

	unchanged, err := f.subs.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))
}

func TestRunDeclineRecordsFailure(t *testing.T) {
	f := newRenewalsFixture(t)
	sub := f.seedDue(t, "tok-decline", 0)
	f.gateway.responses["tok-decline"] = &redsys.ChargeResponse{ResponseCode: "0190"}
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	summary, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TotalFailed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, outcomeDeclined, summary.Results[0].Outcome)
	assert.Equal(t, "0190", summary.Results[0].ResponseCode)

	tx, err := f.ledger.Find(context.Background(), f.gateway.calls[0].Order)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusDenied, tx.Status)

	failed, err := f.subs.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, failed.Status)
	assert.Equal(t, 1, failed.FailedAttempts)
	assert.True(t, failed.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))
}

func TestRunIsolatesPerItemFailures(t *testing.T) {
	f := newRenewalsFixture(t)
	f.seedDue(t, "tok-boom", 0)
	healthy := f.seedDue(t, "tok-ok", 0)
	f.gateway.errs["tok-boom"] = fmt.Errorf("gateway timeout")
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	summary, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalProcessed)
	assert.Equal(t, 1, summary.TotalSucceeded)
	assert.Equal(t, 1, summary.TotalFailed)

	renewed, err := f.subs.FindByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.True(t, renewed.CurrentPeriodEnd.After(f.now))
}

func TestRunGatewayErrorResolvesLedgerToError(t *testing.T) {
	f := newRenewalsFixture(t)
	f.seedDue(t, "tok-err", 0)
	f.gateway.errs["tok-err"] = fmt.Errorf("connection reset")
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	_, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	require.Len(t, f.gateway.calls, 1)
	tx, err := f.ledger.Find(context.Background(), f.gateway.calls[0].Order)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusError, tx.Status)
}

func TestRunDunningThresholdCancels(t *testing.T) {
	f := newRenewalsFixture(t)
	sub := f.seedDue(t, "tok-dunning", 2)
	f.gateway.responses["tok-dunning"] = &redsys.ChargeResponse{ResponseCode: "0190"}
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50, DunningThreshold: 3}, false)

	_, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	canceled, err := f.subs.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusCanceled, canceled.Status)
	assert.Nil(t, canceled.NextRenewalAt)
}

func TestRunDunningDisabledByDefault(t *testing.T) {
	f := newRenewalsFixture(t)
	sub := f.seedDue(t, "tok-nodunning", 10)
	f.gateway.responses["tok-nodunning"] = &redsys.ChargeResponse{ResponseCode: "0190"}
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	_, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	still, err := f.subs.FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, still.Status)
}

func TestRunFreshOrderPerAttempt(t *testing.T) {
	f := newRenewalsFixture(t)
	f.seedDue(t, "tok-again", 0)
	f.gateway.responses["tok-again"] = &redsys.ChargeResponse{ResponseCode: "0190"}
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, false)

	_, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	require.Len(t, f.gateway.calls, 2)
	assert.NotEqual(t, f.gateway.calls[0].Order, f.gateway.calls[1].Order)

	var txCount int64
	require.NoError(t, f.db.Model(&models.PaymentTransaction{}).Count(&txCount).Error)
	assert.EqualValues(t, 2, txCount)
}

func TestRunHidesResultsInProduction(t *testing.T) {
	f := newRenewalsFixture(t)
	f.seedDue(t, "tok-prod", 0)
	svc := f.newService(t, config.RecurringConfig{DefaultLimit: 50}, true)

	summary, err := svc.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalSucceeded)
	assert.Empty(t, summary.Results)
}
