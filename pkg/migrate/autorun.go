package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on startup, but only in the dev
// environment with MARKET_AUTO_MIGRATE set. Other environments run cmd/migrate
// as a release step.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("auto-migrate: sql handle: %w", err)
	}
	runner, err := NewRunner(sqlDB, Embedded(), logg)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	ctx = logg.WithField(ctx, "migrate_mode", "dev-auto")
	logg.Info(ctx, "applying schema migrations")
	return runner.Up(ctx)
}
