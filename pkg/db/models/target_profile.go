package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// TargetProfile holds an advertiser's funnel economics and ledger locations.
// CPO targets are only set for funnels that sell a paid front offer.
type TargetProfile struct {
	ID              uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AdvertiserID    uuid.UUID           `gorm:"column:advertiser_id;type:uuid;not null;uniqueIndex"`
	AppealName      string              `gorm:"column:appeal_name;not null"`
	LandingPageName string              `gorm:"column:landing_page_name;not null"`
	FunnelCategory  enums.FunnelCategory `gorm:"column:funnel_category;type:funnel_category;not null"`
	TargetCPA       decimal.Decimal     `gorm:"column:target_cpa;type:numeric(14,2);not null"`
	AllowableCPA    decimal.Decimal     `gorm:"column:allowable_cpa;type:numeric(14,2);not null"`
	TargetCPO       *decimal.Decimal    `gorm:"column:target_cpo;type:numeric(14,2)"`
	AllowableCPO    *decimal.Decimal    `gorm:"column:allowable_cpo;type:numeric(14,2)"`

	LeadSpreadsheetID  string  `gorm:"column:lead_spreadsheet_id;not null"`
	LeadSheetName      string  `gorm:"column:lead_sheet_name;not null;default:'registrations'"`
	SalesSpreadsheetID *string `gorm:"column:sales_spreadsheet_id"`
	SalesSheetName     *string `gorm:"column:sales_sheet_name"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
