package main

import (
	"context"
	"fmt"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis"
	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

func migrateAction(*cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)

	return postgis.Migrate(context.Background(), cfg.DatabaseURL(), cfg.PerimeterTable, logger)
}
