package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

const (
	// Snapshots back two years of decisions; older rounds are dead weight.
	snapshotRetentionDays = 730

	// Runs during the nightly quiet window, off the sweep's minute.
	retentionSchedule = "30 20 * * *"
)

type RetentionJobParams struct {
	Logger    *logger.Logger
	Snapshots retentionPruner
	Audit     retentionPruner
	Retention int
}

type retentionPruner interface {
	Prune(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

// NewRetentionJob builds the nightly job that trims expired snapshot rounds
// and their audit trail. The audit pruner is optional.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = snapshotRetentionDays
	}
	return &retentionJob{
		logg:      params.Logger,
		snapshots: params.Snapshots,
		audit:     params.Audit,
		retention: retention,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	snapshots retentionPruner
	audit     retentionPruner
	retention int
	now       func() time.Time
}

func (j *retentionJob) Name() string { return "snapshot-retention" }

func (j *retentionJob) Schedule() string { return retentionSchedule }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs []error
	if err := j.pruneSnapshots(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := j.pruneAuditLogs(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *retentionJob) pruneSnapshots(ctx context.Context, now time.Time) error {
	deleted, err := j.snapshots.Prune(ctx, j.retention, now)
	if err != nil {
		return fmt.Errorf("snapshot retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "snapshot retention cleanup complete")
	return nil
}

func (j *retentionJob) pruneAuditLogs(ctx context.Context, now time.Time) error {
	if j.audit == nil {
		return nil
	}
	deleted, err := j.audit.Prune(ctx, j.retention, now)
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "audit retention cleanup complete")
	return nil
}
