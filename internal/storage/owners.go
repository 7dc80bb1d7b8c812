package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/indiepalbien/app-finzas/internal/model"
)

// CreateOwner inserts a new owner.
func (s *SQLiteStorage) CreateOwner(ctx context.Context, name string) (*model.Owner, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	owner := model.Owner{Name: strings.TrimSpace(name), CreatedAt: s.now()}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO owners (name, created_at) VALUES (?, ?)", owner.Name, owner.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}

	if owner.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get owner ID: %w", err)
	}

	return &owner, nil
}

// ListOwnerIDs returns every owner id in ascending order.
func (s *SQLiteStorage) ListOwnerIDs(ctx context.Context) ([]int64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM owners ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owners: %w", err)
	}

	return ids, nil
}

// EnsureCategory returns the owner's category with this name, creating it if needed.
func (s *SQLiteStorage) EnsureCategory(ctx context.Context, ownerID int64, name string) (*model.Category, error) {
	id, createdAt, err := s.ensureNamed(ctx, "categories", ownerID, name)
	if err != nil {
		return nil, err
	}
	return &model.Category{ID: id, OwnerID: ownerID, Name: strings.TrimSpace(name), CreatedAt: createdAt}, nil
}

// EnsurePayee returns the owner's payee with this name, creating it if needed.
func (s *SQLiteStorage) EnsurePayee(ctx context.Context, ownerID int64, name string) (*model.Payee, error) {
	id, createdAt, err := s.ensureNamed(ctx, "payees", ownerID, name)
	if err != nil {
		return nil, err
	}
	return &model.Payee{ID: id, OwnerID: ownerID, Name: strings.TrimSpace(name), CreatedAt: createdAt}, nil
}

func (s *SQLiteStorage) ensureNamed(ctx context.Context, table string, ownerID int64, name string) (id int64, createdAt time.Time, err error) {
	if err = validateContext(ctx); err != nil {
		return 0, time.Time{}, err
	}
	if err = validateOwnerID(ownerID); err != nil {
		return 0, time.Time{}, err
	}
	if err = validateString(name, "name"); err != nil {
		return 0, time.Time{}, err
	}
	name = strings.TrimSpace(name)

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+table+" (owner_id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (owner_id, name) DO NOTHING",
		ownerID, name, s.now())
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to create %s %q: %w", table, name, err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM "+table+" WHERE owner_id = ? AND name = ?", ownerID, name,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to load %s %q: %w", table, name, err)
	}

	return id, createdAt, nil
}
