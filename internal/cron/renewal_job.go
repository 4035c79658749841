package cron

import (
	"context"
	"fmt"

	"github.com/mtorresdev/molino-backend/internal/renewals"
	"github.com/mtorresdev/molino-backend/pkg/logger"
)

type renewalRunner interface {
	Run(ctx context.Context, params renewals.RunParams) (*renewals.RunSummary, error)
}

type RenewalJobParams struct {
	Logger   *logger.Logger
	Renewals renewalRunner
	Limit    int
}

// NewRenewalJob wraps the renewal service in a cron job.
func NewRenewalJob(params RenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Renewals == nil {
		return nil, fmt.Errorf("renewal service required")
	}
	return &renewalJob{
		logg:     params.Logger,
		renewals: params.Renewals,
		limit:    params.Limit,
	}, nil
}

type renewalJob struct {
	logg     *logger.Logger
	renewals renewalRunner
	limit    int
}

func (j *renewalJob) Name() string { return "subscription-renewal" }

func (j *renewalJob) Run(ctx context.Context) error {
	summary, err := j.renewals.Run(ctx, renewals.RunParams{Limit: j.limit})
	if err != nil {
		return fmt.Errorf("subscription renewal: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"total_due":       summary.TotalDue,
		"total_succeeded": summary.TotalSucceeded,
		"total_failed":    summary.TotalFailed,
	})
	j.logg.Info(logCtx, "subscription renewal job complete")
	return nil
}
