package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lcoreIndexer/internal/config"
	"lcoreIndexer/internal/storage/postgres"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrate requires the postgres store")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return postgres.Migrate(cfg.DatabaseURL, logger)
}
