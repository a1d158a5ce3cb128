package snapshots

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// SnapshotDTO exposes one decision snapshot row in API responses.
type SnapshotDTO struct {
	ID                  uuid.UUID            `json:"id"`
	AdvertiserAccountID string               `json:"advertiser_account_id"`
	AdID                string               `json:"ad_id"`
	AdName              string               `json:"ad_name"`
	ExecutionTime       time.Time            `json:"execution_time"`
	RunID               uuid.UUID            `json:"run_id"`
	Conversions         int64                `json:"conversions"`
	Spend               decimal.Decimal      `json:"spend"`
	CPA                 *decimal.Decimal     `json:"cpa,omitempty"`
	DailyBudget         decimal.Decimal      `json:"daily_budget"`
	Action              enums.DecisionAction `json:"action"`
	Reason              string               `json:"reason"`
	NewBudget           *decimal.Decimal     `json:"new_budget,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

func toDTO(m *models.AdSnapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:                  m.ID,
		AdvertiserAccountID: m.AdvertiserAccountID,
		AdID:                m.AdID,
		AdName:              m.AdName,
		ExecutionTime:       m.ExecutionTime,
		RunID:               m.RunID,
		Conversions:         m.Conversions,
		Spend:               m.Spend,
		CPA:                 m.CPA,
		DailyBudget:         m.DailyBudget,
		Action:              m.Action,
		Reason:              m.Reason,
		NewBudget:           m.NewBudget,
		CreatedAt:           m.CreatedAt,
	}
}
