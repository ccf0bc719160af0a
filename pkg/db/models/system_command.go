package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/catalogsync/pkg/enums"
)

// SystemCommand is a durable intent consumed by a downstream worker.
type SystemCommand struct {
	ID        uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Type      enums.SystemCommandType   `gorm:"column:type;not null"`
	Payload   datatypes.JSON            `gorm:"column:payload;not null"`
	Status    enums.SystemCommandStatus `gorm:"column:status;not null;default:'PENDING';index"`
	CreatedAt time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
