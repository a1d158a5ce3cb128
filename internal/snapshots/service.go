package snapshots

import (
	"context"
	"strings"
	"time"

	"github.com/adpilot-hq/adpilot-backend/pkg/db"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/pagination"
)

// Service defines snapshot reads and writes for the optimizer and the
// operator API.
type Service interface {
	RecordGeneration(ctx context.Context, snapshots []models.AdSnapshot) error
	LatestBefore(ctx context.Context, accountID, adID string, before time.Time) (*models.AdSnapshot, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Prune(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

type service struct {
	repo Repository
}

// ListParams configures the snapshot listing. Date filters on the UTC day of
// execution_time; operators converting to advertiser-local days do so client
// side.
type ListParams struct {
	AdvertiserAccountID string
	AdID                string
	Date                string
	Limit               int
	Cursor              string
}

// ListResult wraps returned snapshots and the cursor for the next page.
type ListResult struct {
	Items      []SnapshotDTO `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// NewService wires snapshot dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "snapshots repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordGeneration(ctx context.Context, snapshots []models.AdSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := s.repo.InsertBatch(ctx, snapshots); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record snapshot generation")
	}
	return nil
}

// LatestBefore returns the newest snapshot strictly before the given time, or
// nil when the ad has no prior snapshot.
func (s *service) LatestBefore(ctx context.Context, accountID, adID string, before time.Time) (*models.AdSnapshot, error) {
	snapshot, err := s.repo.LatestBefore(ctx, accountID, adID, before)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prior snapshot")
	}
	return snapshot, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	accountID := strings.TrimSpace(params.AdvertiserAccountID)
	if accountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "advertiser account id required")
	}

	query := listSnapshotsParams{
		AdvertiserAccountID: accountID,
		AdID:                strings.TrimSpace(params.AdID),
		Limit:               params.Limit,
	}
	if params.Date != "" {
		day, err := time.Parse("2006-01-02", params.Date)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date")
		}
		from := day
		to := day.AddDate(0, 0, 1)
		query.From = &from
		query.To = &to
	}
	if params.Cursor != "" {
		cursor, err := pagination.Parse(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list snapshots")
	}

	result := &ListResult{Items: make([]SnapshotDTO, 0, len(rows))}
	for i := range rows {
		result.Items = append(result.Items, toDTO(&rows[i]))
	}
	if next != nil {
		result.NextCursor = pagination.Encode(*next)
	}
	return result, nil
}

func (s *service) Prune(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention days must be positive")
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	pruned, err := s.repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prune snapshots")
	}
	return pruned, nil
}
