package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/adpilot-hq/adpilot-backend/pkg/enums"
)

// AuditLog records every mutation the system applies to a platform entity,
// with before/after payloads for operator review.
type AuditLog struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EntityType string            `gorm:"column:entity_type;not null;index:idx_audit_logs_entity,priority:1"`
	EntityID   string            `gorm:"column:entity_id;not null;index:idx_audit_logs_entity,priority:2"`
	Action     enums.AuditAction `gorm:"column:action;type:audit_action;not null"`
	Source     enums.AuditSource `gorm:"column:source;type:audit_source;not null;index"`
	Actor      string            `gorm:"column:actor;not null"`
	RunID      *uuid.UUID        `gorm:"column:run_id;type:uuid;index"`
	Before     json.RawMessage   `gorm:"column:before;type:jsonb"`
	After      json.RawMessage   `gorm:"column:after;type:jsonb"`
	Reason     string            `gorm:"column:reason;not null"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}
