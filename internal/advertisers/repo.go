package advertisers

import (
	"context"

	"gorm.io/gorm"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
)

// Repository exposes persistence helpers for advertisers and their
// target profiles.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, advertiser *models.Advertiser) error
	GetByAccountID(ctx context.Context, accountID string) (*models.Advertiser, error)
	List(ctx context.Context, activeOnly bool) ([]models.Advertiser, error)
	SaveProfile(ctx context.Context, profile *models.TargetProfile) error
	SetActive(ctx context.Context, accountID string, active bool) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an advertiser repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, advertiser *models.Advertiser) error {
	return r.db.WithContext(ctx).Create(advertiser).Error
}

func (r *repositoryImpl) GetByAccountID(ctx context.Context, accountID string) (*models.Advertiser, error) {
	var advertiser models.Advertiser
	if err := r.db.WithContext(ctx).
		Preload("Profile").
		Where("account_id = ?", accountID).
		First(&advertiser).Error; err != nil {
		return nil, err
	}
	return &advertiser, nil
}

func (r *repositoryImpl) List(ctx context.Context, activeOnly bool) ([]models.Advertiser, error) {
	query := r.db.WithContext(ctx).Preload("Profile")
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var rows []models.Advertiser
	if err := query.Order("account_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) SaveProfile(ctx context.Context, profile *models.TargetProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *repositoryImpl) SetActive(ctx context.Context, accountID string, active bool) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Advertiser{}).
		Where("account_id = ?", accountID).
		UpdateColumn("active", active)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
