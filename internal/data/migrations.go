package data

import (
	"context"
	"database/sql"

	"github.com/target/mmk-research-api/internal/migrate"
)

// RunMigrations applies every embedded migration by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists migrations not yet applied.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
