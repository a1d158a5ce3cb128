package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BudgetCap is an operator-set ceiling for one ad's daily budget. A cap only
// binds while inside its optional validity window.
type BudgetCap struct {
	ID                  uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AdvertiserAccountID string          `gorm:"column:advertiser_account_id;not null;index"`
	AdID                string          `gorm:"column:ad_id;not null;unique"`
	Cap                 decimal.Decimal `gorm:"column:cap;type:numeric(14,2);not null"`
	StartsAt            *time.Time      `gorm:"column:starts_at"`
	EndsAt              *time.Time      `gorm:"column:ends_at"`
	Note                *string         `gorm:"column:note"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// ActiveAt reports whether the cap binds at the given instant. A nil bound
// leaves that side of the window open.
func (c BudgetCap) ActiveAt(t time.Time) bool {
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && !t.Before(*c.EndsAt) {
		return false
	}
	return true
}
