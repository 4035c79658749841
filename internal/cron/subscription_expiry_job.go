package cron

import (
	"context"
	"fmt"

	"github.com/mtorresdev/molino-backend/pkg/logger"
)

type subscriptionExpirer interface {
	Run(ctx context.Context) (int64, error)
}

type SubscriptionExpiryJobParams struct {
	Logger  *logger.Logger
	Expirer subscriptionExpirer
}

// NewSubscriptionExpiryJob wraps the subscription expirer in a cron job.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("expirer required")
	}
	return &subscriptionExpiryJob{
		logg:    params.Logger,
		expirer: params.Expirer,
	}, nil
}

type subscriptionExpiryJob struct {
	logg    *logger.Logger
	expirer subscriptionExpirer
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.expirer.Run(ctx)
	if err != nil {
		return fmt.Errorf("subscription expiry: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_expired", expired), "subscription expiry job complete")
	return nil
}
