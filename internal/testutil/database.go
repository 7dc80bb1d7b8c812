// Package testutil provides shared test fixtures backed by a real SQLite database.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/storage"
)

// TestDB represents a migrated test database with helpers for seeding it.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated database in the test's temp dir.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "finzas.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Owner is a seeded owner with name lookups for its categories and payees.
type Owner struct {
	db         *TestDB
	categories map[string]int64
	payees     map[string]int64
	ID         int64
}

// NewOwner creates an owner.
func (db *TestDB) NewOwner(name string) *Owner {
	db.t.Helper()

	owner, err := db.Storage.CreateOwner(context.Background(), name)
	if err != nil {
		db.t.Fatalf("failed to create owner %q: %v", name, err)
	}

	return &Owner{
		db:         db,
		ID:         owner.ID,
		categories: make(map[string]int64),
		payees:     make(map[string]int64),
	}
}

// Category returns the id of the named category, creating it on first use.
func (o *Owner) Category(name string) *int64 {
	o.db.t.Helper()
	if id, ok := o.categories[name]; ok {
		return &id
	}

	cat, err := o.db.Storage.EnsureCategory(context.Background(), o.ID, name)
	if err != nil {
		o.db.t.Fatalf("failed to create category %q: %v", name, err)
	}
	o.categories[name] = cat.ID
	id := cat.ID
	return &id
}

// Payee returns the id of the named payee, creating it on first use.
func (o *Owner) Payee(name string) *int64 {
	o.db.t.Helper()
	if id, ok := o.payees[name]; ok {
		return &id
	}

	payee, err := o.db.Storage.EnsurePayee(context.Background(), o.ID, name)
	if err != nil {
		o.db.t.Fatalf("failed to create payee %q: %v", name, err)
	}
	o.payees[name] = payee.ID
	id := payee.ID
	return &id
}

// Target builds a rule target from category and payee names. An empty name leaves that side unset.
func (o *Owner) Target(category, payee string) model.Target {
	o.db.t.Helper()

	var cat, pay *int64
	if category != "" {
		cat = o.Category(category)
	}
	if payee != "" {
		pay = o.Payee(payee)
	}

	target, err := model.NewTarget(cat, pay)
	if err != nil {
		o.db.t.Fatalf("invalid target: %v", err)
	}
	return target
}

// AddTransaction stores an unlabeled transaction dated date.
func (o *Owner) AddTransaction(description, amount, currency string, date time.Time) model.Transaction {
	o.db.t.Helper()

	txn := model.Transaction{
		OwnerID:     o.ID,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Currency:    currency,
		Date:        date,
	}
	if err := o.db.Storage.CreateTransaction(context.Background(), &txn); err != nil {
		o.db.t.Fatalf("failed to create transaction %q: %v", description, err)
	}
	return txn
}

// Get reloads a transaction.
func (o *Owner) Get(txID int64) model.Transaction {
	o.db.t.Helper()

	txn, err := o.db.Storage.GetTransaction(context.Background(), o.ID, txID)
	if err != nil {
		o.db.t.Fatalf("failed to load transaction %d: %v", txID, err)
	}
	return *txn
}
