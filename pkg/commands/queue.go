package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// Command is an intent to be persisted for a downstream worker.
type Command struct {
	Type    enums.SystemCommandType
	Payload any
}

// Enqueuer is the write surface used inside reconciliation transactions.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, cmd Command) (*models.SystemCommand, error)
}

type Queue struct {
	repo *Repository
	logg *logger.Logger
}

func NewQueue(repo *Repository, logg *logger.Logger) *Queue {
	return &Queue{repo: repo, logg: logg}
}

// Enqueue stores cmd as PENDING within tx so it commits or rolls back with
// the state change that caused it.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, cmd Command) (*models.SystemCommand, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if !cmd.Type.IsValid() {
		return nil, fmt.Errorf("invalid system command type %q", cmd.Type)
	}
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", cmd.Type, err)
	}
	row := &models.SystemCommand{
		ID:      uuid.New(),
		Type:    cmd.Type,
		Payload: datatypes.JSON(payload),
		Status:  enums.CommandStatusPending,
	}
	if err := q.repo.Insert(ctx, tx, row); err != nil {
		return nil, err
	}
	if q.logg != nil {
		logCtx := q.logg.WithFields(ctx, map[string]any{
			"command_id":   row.ID.String(),
			"command_type": row.Type,
		})
		q.logg.Info(logCtx, "system command queued")
	}
	return row, nil
}
