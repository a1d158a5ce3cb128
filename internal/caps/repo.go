package caps

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
)

// Repository exposes persistence helpers for budget caps. Caps are keyed by
// ad id; pool resolution fetches all co-members in one query.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, cap *models.BudgetCap) error
	ListForAds(ctx context.Context, adIDs []string) ([]models.BudgetCap, error)
	Delete(ctx context.Context, adID string) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a budget cap repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Upsert(ctx context.Context, cap *models.BudgetCap) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ad_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cap", "starts_at", "ends_at", "note", "updated_at"}),
		}).
		Create(cap).Error
}

func (r *repositoryImpl) ListForAds(ctx context.Context, adIDs []string) ([]models.BudgetCap, error) {
	if len(adIDs) == 0 {
		return nil, nil
	}
	var rows []models.BudgetCap
	if err := r.db.WithContext(ctx).
		Where("ad_id IN ?", adIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) Delete(ctx context.Context, adID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("ad_id = ?", adID).
		Delete(&models.BudgetCap{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
