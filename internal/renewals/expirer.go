package renewals

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mtorresdev/molino-backend/internal/subscriptions"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

// Expirer flips canceled subscriptions to expired once their paid period
// runs out. Idempotent and safe to re-run.
type Expirer struct {
	subs subscriptions.Repository
	logg *logger.Logger
	now  func() time.Time
}

type ExpirerParams struct {
	Subscriptions subscriptions.Repository
	Logger        *logger.Logger
	Now           func() time.Time
}

func NewExpirer(params ExpirerParams) (*Expirer, error) {
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Expirer{
		subs: params.Subscriptions,
		logg: params.Logger,
		now:  now,
	}, nil
}

// Run expires every canceled subscription whose period has ended and returns
// the count affected.
func (e *Expirer) Run(ctx context.Context) (int64, error) {
	now := e.now()
	var expired int64
	var errs error

	for {
		batch, err := e.subs.FindExpiredCanceled(ctx, now, expiryBatchSize)
		if err != nil {
			return expired, fmt.Errorf("select expired subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		progressed := false
		for i := range batch {
			sub := &batch[i]
			if err := e.subs.Expire(ctx, sub.ID); err != nil {
				e.logg.Error(e.logg.WithSubscriptionID(ctx, sub.ID.String()), "expire subscription failed", err)
				errs = multierr.Append(errs, fmt.Errorf("expire subscription %s: %w", sub.ID, err))
				continue
			}
			expired++
			progressed = true
		}
		// Rows that fail to expire would be re-selected forever; stop once a
		// whole batch makes no progress.
		if !progressed || len(batch) < expiryBatchSize {
			break
		}
	}

	if expired > 0 {
		e.logg.Info(e.logg.WithField(ctx, "expired", expired), "expired canceled subscriptions")
	}
	return expired, errs
}

const expiryBatchSize = 100
