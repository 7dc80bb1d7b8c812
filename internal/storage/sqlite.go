// Package storage provides the SQLite persistence layer for the rule engine.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Ensure SQLiteStorage implements Storage interface.
var _ service.Storage = (*SQLiteStorage)(nil)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	now    func() time.Time
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Validate input
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewWithDB(db)
	s.dbPath = dbPath
	return s, nil
}

// NewWithDB wraps an already opened database handle.
func NewWithDB(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file the storage was opened on.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrPersistenceConflict, err)
	}
	return nil
}

// checkOwned explains why a scoped write touched no row.
func (s *SQLiteStorage) checkOwned(ctx context.Context, table string, ownerID, id int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx, "SELECT owner_id FROM "+table+" WHERE id = ?", id).Scan(&owner)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", table, id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s %d: %w", table, id, err)
	}
	if owner != ownerID {
		return common.OwnerMismatchError(ownerID, owner, fmt.Sprintf("%s %d", table, id))
	}
	return nil
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
