package main

import (
	"go-relayer/internal/db"

	"github.com/spf13/cobra"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and run data migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			gdb, err := db.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			if err := db.Migrate(gdb, logger, cfg.Relayer.ExpiryWindow); err != nil {
				return err
			}
			logger.Info("Database is up to date")
			return nil
		},
	}
}
