package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/bootstrap"
	"github.com/target/mmk-research-api/internal/data"
)

const defaultMigrationTimeout = 5 * time.Minute

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var (
		timeout     time.Duration
		pendingOnly bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (reads DB_* from the environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return errors.New("--timeout must be greater than zero")
			}
			dbCfg, err := loadDBConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: dbCfg, Logger: root.logger})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					root.logger.Warn("db close failed", "error", closeErr)
				}
			}()

			if pendingOnly {
				pending, err := data.PendingMigrations(ctx, db)
				if err != nil {
					return fmt.Errorf("list pending migrations: %w", err)
				}
				for _, name := range pending {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			if err := bootstrap.RunMigrations(ctx, db, root.logger); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "maximum duration to wait for migrations")
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "list pending migrations without applying them")
	return cmd
}

func loadDBConfig() (config.DBConfig, error) {
	if err := loadDotenv(); err != nil {
		return config.DBConfig{}, err
	}
	var cfg config.DBConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "DB_"}); err != nil {
		return config.DBConfig{}, fmt.Errorf("parse database config: %w", err)
	}
	return cfg, nil
}
