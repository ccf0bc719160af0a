package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an insert-only record of one field or status mutation.
type AuditLog struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EntityType string    `gorm:"column:entity_type;not null;index:idx_audit_logs_entity,priority:1"`
	EntityID   uuid.UUID `gorm:"column:entity_id;type:uuid;not null;index:idx_audit_logs_entity,priority:2"`
	Action     string    `gorm:"column:action;not null"`
	OldValue   *string   `gorm:"column:old_value"`
	NewValue   *string   `gorm:"column:new_value"`
	Actor      string    `gorm:"column:actor;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
