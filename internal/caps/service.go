package caps

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// SetParams describe one operator cap write. A nil window bound leaves that
// side open.
type SetParams struct {
	AdvertiserAccountID string
	AdID                string
	Cap                 decimal.Decimal
	StartsAt            *time.Time
	EndsAt              *time.Time
	Note                *string
}

// Service manages operator-set budget caps. Writes take effect on the next
// optimization round; the resolver reads caps fresh each run.
type Service interface {
	Set(ctx context.Context, params SetParams) (*models.BudgetCap, error)
	Clear(ctx context.Context, adID string) error
}

type service struct {
	repo Repository
}

// NewService wires cap management dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "caps repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Set(ctx context.Context, params SetParams) (*models.BudgetCap, error) {
	accountID := strings.TrimSpace(params.AdvertiserAccountID)
	if accountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "advertiser account id required")
	}
	adID := strings.TrimSpace(params.AdID)
	if adID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ad id required")
	}
	if params.Cap.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cap must be positive")
	}
	if params.StartsAt != nil && params.EndsAt != nil && !params.EndsAt.After(*params.StartsAt) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cap window must end after it starts")
	}

	row := &models.BudgetCap{
		AdvertiserAccountID: accountID,
		AdID:                adID,
		Cap:                 params.Cap,
		StartsAt:            params.StartsAt,
		EndsAt:              params.EndsAt,
		Note:                params.Note,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store budget cap")
	}
	return row, nil
}

func (s *service) Clear(ctx context.Context, adID string) error {
	trimmed := strings.TrimSpace(adID)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ad id required")
	}
	deleted, err := s.repo.Delete(ctx, trimmed)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear budget cap")
	}
	if deleted == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no cap configured for ad")
	}
	return nil
}
