package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"payup/internal/app"
	"payup/internal/config"
	"payup/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := app.NewLogger(cfg.Log)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.NewDatabase(ctx, cfg.Database, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(db); err != nil {
				return err
			}

			logger.Info("migrations applied")
			return nil
		},
	}
}
