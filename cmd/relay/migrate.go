package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		cfg.Database.SkipMigrations = false
		store, err := openStore(cfg.Database, logger)
		if err != nil {
			return err
		}
		return store.Close()
	},
}
