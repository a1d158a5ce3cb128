package advertisers

import (
	"context"
	"strings"

	"github.com/adpilot-hq/adpilot-backend/pkg/db"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// Service exposes advertiser configuration reads for the optimizer and the
// operator API.
type Service interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Advertiser, error)
	List(ctx context.Context, activeOnly bool) ([]AdvertiserDTO, error)
	ListActive(ctx context.Context) ([]models.Advertiser, error)
}

type service struct {
	repo Repository
}

// NewService wires advertiser dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "advertisers repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetByAccountID(ctx context.Context, accountID string) (*models.Advertiser, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}

	advertiser, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "advertiser not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load advertiser")
	}
	return advertiser, nil
}

func (s *service) List(ctx context.Context, activeOnly bool) ([]AdvertiserDTO, error) {
	rows, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list advertisers")
	}

	dtos := make([]AdvertiserDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, toDTO(&rows[i]))
	}
	return dtos, nil
}

func (s *service) ListActive(ctx context.Context) ([]models.Advertiser, error) {
	rows, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active advertisers")
	}
	return rows, nil
}
