// Package audit appends immutable change records. Entries are written inside
// the caller's transaction so they commit or roll back with the mutation.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
)

// Entry describes one field or status change.
type Entry struct {
	EntityType enums.AuditEntityType
	EntityID   uuid.UUID
	Action     enums.AuditAction
	OldValue   *string
	NewValue   *string
	Actor      string
}

// Appender is the write surface shared by the upserter and reconciliation.
type Appender interface {
	Append(ctx context.Context, tx *gorm.DB, entry Entry) error
}

type Writer struct {
	now func() time.Time
}

func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

func (w *Writer) Append(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.EntityID == uuid.Nil {
		return errors.New("audit entity id required")
	}
	if entry.Action == "" || entry.Actor == "" {
		return errors.New("audit action and actor required")
	}
	row := &models.AuditLog{
		ID:         uuid.New(),
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		Action:     string(entry.Action),
		OldValue:   entry.OldValue,
		NewValue:   entry.NewValue,
		Actor:      entry.Actor,
		CreatedAt:  w.now().UTC(),
	}
	return tx.WithContext(ctx).Create(row).Error
}

// Value returns a pointer to s for Entry old/new fields.
func Value(s string) *string {
	return &s
}

// ListForEntity returns the audit trail of one entity oldest first.
func ListForEntity(ctx context.Context, db *gorm.DB, entityType enums.AuditEntityType, id uuid.UUID) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(entityType), id).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
