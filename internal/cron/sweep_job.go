package cron

import (
	"context"
	"fmt"

	"github.com/adpilot-hq/adpilot-backend/internal/optimizer"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

// sweepSchedule fires every hour on the hour. Advertisers outside their
// local operating window are skipped inside the sweep itself.
const sweepSchedule = "0 * * * *"

type SweepJobParams struct {
	Logger *logger.Logger
	Runner sweepRunner
	DryRun bool
}

type sweepRunner interface {
	Sweep(ctx context.Context, dryRun bool) (*optimizer.SweepResult, error)
}

// NewSweepJob builds the hourly job that walks every active advertiser.
func NewSweepJob(params SweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("sweep runner required")
	}
	return &sweepJob{
		logg:   params.Logger,
		runner: params.Runner,
		dryRun: params.DryRun,
	}, nil
}

type sweepJob struct {
	logg   *logger.Logger
	runner sweepRunner
	dryRun bool
}

func (j *sweepJob) Name() string { return "optimize-sweep" }

func (j *sweepJob) Schedule() string { return sweepSchedule }

// Run errors only when the sweep itself cannot start. Per-advertiser
// failures are counted and notified inside the sweep.
func (j *sweepJob) Run(ctx context.Context) error {
	result, err := j.runner.Sweep(ctx, j.dryRun)
	if err != nil {
		return fmt.Errorf("optimize sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"advertisers": result.Total,
		"succeeded":   result.Succeeded,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"dry_run":     result.DryRun,
	})
	j.logg.Info(logCtx, "optimize sweep complete")
	return nil
}
