package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
)

// Run brings the schema for every sync model up to date.
func Run(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if err := conn.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// TableStatus reports whether one model's table exists.
type TableStatus struct {
	Table  string
	Exists bool
}

// Status lists every sync model's table in declaration order.
func Status(ctx context.Context, conn *gorm.DB) ([]TableStatus, error) {
	if conn == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrator := conn.WithContext(ctx).Migrator()
	out := make([]TableStatus, 0, len(models.All()))
	for _, model := range models.All() {
		stmt := &gorm.Statement{DB: conn}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model %T: %w", model, err)
		}
		out = append(out, TableStatus{Table: stmt.Schema.Table, Exists: migrator.HasTable(model)})
	}
	return out, nil
}
