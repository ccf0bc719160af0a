package commands

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, row *models.SystemCommand) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.WithContext(ctx).Create(row).Error
}

// ListPending returns queued commands oldest first. Used by the downstream
// dispatcher and by tests.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.SystemCommand, error) {
	var rows []models.SystemCommand
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.CommandStatusPending).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, enums.CommandStatusDispatched)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, enums.CommandStatusFailed)
}

func (r *Repository) setStatus(ctx context.Context, id uuid.UUID, status enums.SystemCommandStatus) error {
	res := r.db.WithContext(ctx).Model(&models.SystemCommand{}).
		Where("id = ? AND status = ?", id, enums.CommandStatusPending).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
