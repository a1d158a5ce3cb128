package snapshots

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/pagination"
)

// roundKey is the unique identity of one ad's snapshot within one run.
var roundKey = []clause.Column{
	{Name: "advertiser_account_id"},
	{Name: "ad_id"},
	{Name: "execution_time"},
}

// Repository exposes persistence helpers for ad snapshots. Rows are
// append-only: inserts absorb round-key conflicts so a re-run of the same
// hour never errors and never rewrites what the first run recorded.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, snapshot *models.AdSnapshot) error
	InsertBatch(ctx context.Context, snapshots []models.AdSnapshot) error
	LatestBefore(ctx context.Context, accountID, adID string, before time.Time) (*models.AdSnapshot, error)
	List(ctx context.Context, params listSnapshotsParams) ([]models.AdSnapshot, *pagination.Cursor, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a snapshot repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listSnapshotsParams struct {
	AdvertiserAccountID string
	AdID                string
	From                *time.Time
	To                  *time.Time
	Limit               int
	Cursor              *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Insert(ctx context.Context, snapshot *models.AdSnapshot) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: roundKey, DoNothing: true}).
		Create(snapshot).Error
}

func (r *repositoryImpl) InsertBatch(ctx context.Context, snapshots []models.AdSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: roundKey, DoNothing: true}).
		Create(&snapshots).Error
}

func (r *repositoryImpl) LatestBefore(ctx context.Context, accountID, adID string, before time.Time) (*models.AdSnapshot, error) {
	var snapshot models.AdSnapshot
	if err := r.db.WithContext(ctx).
		Where("advertiser_account_id = ? AND ad_id = ? AND execution_time < ?", accountID, adID, before).
		Order("execution_time DESC").
		First(&snapshot).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listSnapshotsParams) ([]models.AdSnapshot, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.AdSnapshot{}).
		Where("advertiser_account_id = ?", params.AdvertiserAccountID)
	if params.AdID != "" {
		query = query.Where("ad_id = ?", params.AdID)
	}
	if params.From != nil {
		query = query.Where("execution_time >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("execution_time < ?", *params.To)
	}
	if params.Cursor != nil {
		query = query.Where("(execution_time, id) < (?, ?)", params.Cursor.Timestamp, params.Cursor.ID)
	}

	var rows []models.AdSnapshot
	if err := query.Order("execution_time DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > normalized {
		next := rows[normalized]
		rows = rows[:normalized]
		return rows, &pagination.Cursor{Timestamp: next.ExecutionTime, ID: next.ID}, nil
	}
	return rows, nil, nil
}

func (r *repositoryImpl) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AdSnapshot{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
