package advertisers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// AdvertiserDTO exposes advertiser configuration in API responses. Access
// tokens never leave the service.
type AdvertiserDTO struct {
	ID        uuid.UUID          `json:"id"`
	AccountID string             `json:"account_id"`
	Name      string             `json:"name"`
	Timezone  string             `json:"timezone"`
	Active    bool               `json:"active"`
	Profile   *TargetProfileDTO  `json:"profile,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// TargetProfileDTO mirrors the advertiser's funnel economics.
type TargetProfileDTO struct {
	AppealName      string               `json:"appeal_name"`
	LandingPageName string               `json:"landing_page_name"`
	FunnelCategory  enums.FunnelCategory `json:"funnel_category"`
	TargetCPA       decimal.Decimal      `json:"target_cpa"`
	AllowableCPA    decimal.Decimal      `json:"allowable_cpa"`
	TargetCPO       *decimal.Decimal     `json:"target_cpo,omitempty"`
	AllowableCPO    *decimal.Decimal     `json:"allowable_cpo,omitempty"`
}

func toDTO(m *models.Advertiser) AdvertiserDTO {
	dto := AdvertiserDTO{
		ID:        m.ID,
		AccountID: m.AccountID,
		Name:      m.Name,
		Timezone:  m.Timezone,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Profile != nil {
		dto.Profile = &TargetProfileDTO{
			AppealName:      m.Profile.AppealName,
			LandingPageName: m.Profile.LandingPageName,
			FunnelCategory:  m.Profile.FunnelCategory,
			TargetCPA:       m.Profile.TargetCPA,
			AllowableCPA:    m.Profile.AllowableCPA,
			TargetCPO:       m.Profile.TargetCPO,
			AllowableCPO:    m.Profile.AllowableCPO,
		}
	}
	return dto
}
