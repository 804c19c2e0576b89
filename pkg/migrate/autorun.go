package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date at boot when PAYROLL_AUTO_MIGRATE
// is set. Postgres applies the embedded goose migrations; SQLite has no goose
// dialect support here and uses GORM AutoMigrate on the models instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})

	if strings.EqualFold(cfg.DB.Driver, config.DriverSQLite) {
		logg.Info(ctx, "auto-migrating sqlite schema")
		if err := models.AutoMigrate(client.DB().WithContext(ctx)); err != nil {
			return fmt.Errorf("auto-migrate sqlite: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, nil, logg)
	if err != nil {
		return err
	}
	pending, err := runner.Pending(ctx)
	if err != nil {
		return err
	}
	if !pending {
		logg.Info(ctx, "schema up to date")
		return nil
	}
	logg.Info(ctx, "applying pending migrations")
	return runner.Up(ctx)
}
