package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// AdSnapshot is the append-only record of one ad's state at one optimization
// round. Rows are never updated after insert; the next round diffs against the
// latest prior row to decide conversion-delta eligibility.
type AdSnapshot struct {
	ID                  uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AdvertiserAccountID string               `gorm:"column:advertiser_account_id;not null;uniqueIndex:uq_ad_snapshots_round;index:idx_ad_snapshots_advertiser_time,priority:1"`
	AdID                string               `gorm:"column:ad_id;not null;uniqueIndex:uq_ad_snapshots_round;index:idx_ad_snapshots_ad_time,priority:1"`
	AdName              string               `gorm:"column:ad_name;not null"`
	ExecutionTime       time.Time            `gorm:"column:execution_time;not null;uniqueIndex:uq_ad_snapshots_round;index:idx_ad_snapshots_advertiser_time,priority:2;index:idx_ad_snapshots_ad_time,priority:2"`
	RunID               uuid.UUID            `gorm:"column:run_id;type:uuid;not null;index"`
	Conversions         int64                `gorm:"column:conversions;not null"`
	Spend               decimal.Decimal      `gorm:"column:spend;type:numeric(14,2);not null"`
	CPA                 *decimal.Decimal     `gorm:"column:cpa;type:numeric(14,2)"`
	DailyBudget         decimal.Decimal      `gorm:"column:daily_budget;type:numeric(14,2);not null"`
	Action              enums.DecisionAction `gorm:"column:action;type:decision_action;not null"`
	Reason              string               `gorm:"column:reason;not null"`
	NewBudget           *decimal.Decimal     `gorm:"column:new_budget;type:numeric(14,2)"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
}
