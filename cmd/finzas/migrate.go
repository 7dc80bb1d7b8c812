package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/indiepalbien/app-finzas/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Migrations are applied in order and each runs in its own transaction.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if status {
		current, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		slog.Info("Database migration status",
			"database", store.Path(),
			"current", current,
			"latest", storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations", "database", store.Path())
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Database migrations completed", "version", storage.ExpectedSchemaVersion)

	return nil
}
