package cmd

import (
	"fmt"

	"github.com/tidegraph/tidegraph/db"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/log"
)

// runMigrate applies pending database migrations and exits.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{JSON: cfg.LogJSON})
	if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}
