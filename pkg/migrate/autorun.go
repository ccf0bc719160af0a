package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// MaybeRun migrates the schema when CATALOGSYNC_DB_AUTO_MIGRATE is enabled.
// Local sqlite databases are always migrated since nothing else manages them.
func MaybeRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.DB.AutoMigrate && !cfg.DB.IsSQLite() {
		return nil
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	logg.Info(ctx, "running schema auto-migration")

	if err := Run(ctx, client.DB()); err != nil {
		return fmt.Errorf("running auto-migration: %w", err)
	}

	logg.Info(ctx, "schema auto-migration completed")
	return nil
}
