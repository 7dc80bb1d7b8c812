package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: execAll(
			`CREATE TABLE IF NOT EXISTS owners (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS categories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL REFERENCES owners(id),
				name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE (owner_id, name)
			)`,

			`CREATE TABLE IF NOT EXISTS payees (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL REFERENCES owners(id),
				name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE (owner_id, name)
			)`,

			`CREATE TABLE IF NOT EXISTS transactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL REFERENCES owners(id),
				date DATETIME NOT NULL,
				description TEXT NOT NULL,
				amount TEXT NOT NULL DEFAULT '0',
				currency TEXT NOT NULL DEFAULT '',
				category_id INTEGER REFERENCES categories(id),
				payee_id INTEGER REFERENCES payees(id),
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX idx_transactions_owner_date ON transactions(owner_id, date DESC, id)`,
		),
	},
	{
		Version:     2,
		Description: "Add categorization rules",
		Up: execAll(
			// Absent amount and currency are stored as '' so the identity index
			// treats them as equal values.
			`CREATE TABLE IF NOT EXISTS rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL REFERENCES owners(id),
				token_key TEXT NOT NULL,
				tokens TEXT NOT NULL,
				tier TEXT NOT NULL,
				amount TEXT NOT NULL DEFAULT '',
				currency TEXT NOT NULL DEFAULT '',
				category_id INTEGER REFERENCES categories(id),
				payee_id INTEGER REFERENCES payees(id),
				usage_count INTEGER NOT NULL DEFAULT 0,
				miss_count INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				CHECK (category_id IS NOT NULL OR payee_id IS NOT NULL)
			)`,
			`CREATE UNIQUE INDEX idx_rules_identity ON rules(owner_id, token_key, tier, amount, currency)`,

			`CREATE TABLE IF NOT EXISTS rule_tokens (
				rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
				token TEXT NOT NULL,
				PRIMARY KEY (rule_id, token)
			)`,
			`CREATE INDEX idx_rule_tokens_token ON rule_tokens(token, rule_id)`,
		),
	},
	{
		Version:     3,
		Description: "Track the rules that filled a transaction",
		Up: execAll(
			`ALTER TABLE transactions ADD COLUMN category_rule_id INTEGER REFERENCES rules(id)`,
			`ALTER TABLE transactions ADD COLUMN payee_rule_id INTEGER REFERENCES rules(id)`,
		),
	},
	{
		Version:     4,
		Description: "Add rule retirement",
		Up: execAll(
			`ALTER TABLE rules ADD COLUMN retired_at DATETIME`,
			`CREATE INDEX idx_rules_owner_active ON rules(owner_id, retired_at)`,
		),
	},
}

func execAll(queries ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, query := range queries {
			if _, err := tx.Exec(query); err != nil {
				return fmt.Errorf("failed to execute query '%s': %w", query, err)
			}
		}
		return nil
	}
}

// Migrate brings the schema up to ExpectedSchemaVersion.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
