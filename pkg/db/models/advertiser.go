package models

import (
	"time"

	"github.com/google/uuid"
)

// Advertiser is a managed ad account. AccountID is the platform-assigned
// identifier and the key every optimization surface joins on.
type Advertiser struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   string         `gorm:"column:account_id;not null;unique"`
	Name        string         `gorm:"column:name;not null"`
	Timezone    string         `gorm:"column:timezone;not null;default:'Asia/Tokyo'"`
	Active      bool           `gorm:"column:active;not null;default:true"`
	AccessToken *string        `gorm:"column:access_token"`
	Profile     *TargetProfile `gorm:"foreignKey:AdvertiserID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
