package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
)

const transactionColumns = `id, owner_id, date, description, amount, currency,
	category_id, payee_id, category_rule_id, payee_rule_id`

// CreateTransaction inserts txn and sets its ID.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	txn.Currency = strings.ToUpper(txn.Currency)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			owner_id, date, description, amount, currency,
			category_id, payee_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		txn.OwnerID, txn.Date.UTC(), txn.Description, txn.Amount.String(), txn.Currency,
		nullID(txn.CategoryID), nullID(txn.PayeeID), s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction ID: %w", err)
	}
	txn.ID = id

	return nil
}

// GetTransaction loads one of the owner's transactions.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, ownerID, txID int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", txID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %d: %w", txID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if txn.OwnerID != ownerID {
		return nil, common.OwnerMismatchError(ownerID, txn.OwnerID, fmt.Sprintf("transaction %d", txID))
	}

	return txn, nil
}

// ListUnresolved returns the owner's transactions missing a category or a
// payee, newest first. A limit of zero or less returns all of them.
func (s *SQLiteStorage) ListUnresolved(ctx context.Context, ownerID int64, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = ? AND (category_id IS NULL OR payee_id IS NULL)
		ORDER BY date DESC, id ASC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// FillTransaction writes each field of target only where the stored value is
// null and attributes every written field to ruleID. Both conditional updates
// run in one transaction, so a concurrent writer can make either of them a
// no-op but never be overwritten.
func (s *SQLiteStorage) FillTransaction(ctx context.Context, ownerID, txID int64, target model.Target, ruleID int64) (model.FillResult, error) {
	if err := validateContext(ctx); err != nil {
		return model.FillResult{}, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return model.FillResult{}, err
	}

	var result model.FillResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if id := target.CategoryID(); id != nil {
			filled, err := fillColumn(ctx, tx, "category", *id, ruleID, ownerID, txID)
			if err != nil {
				return err
			}
			result.CategoryFilled = filled
		}
		if id := target.PayeeID(); id != nil {
			filled, err := fillColumn(ctx, tx, "payee", *id, ruleID, ownerID, txID)
			if err != nil {
				return err
			}
			result.PayeeFilled = filled
		}
		return nil
	})
	if err != nil {
		return model.FillResult{}, err
	}

	return result, nil
}

// fillColumn sets <field>_id and <field>_rule_id where <field>_id is still null.
func fillColumn(ctx context.Context, tx *sql.Tx, field string, value, ruleID, ownerID, txID int64) (bool, error) {
	column := field + "_id"
	res, err := tx.ExecContext(ctx,
		"UPDATE transactions SET "+column+" = ?, "+field+"_rule_id = ? WHERE id = ? AND owner_id = ? AND "+column+" IS NULL",
		value, ruleID, txID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fill %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// SetLabel stores a human label. Fields the target carries are overwritten
// and lose their rule attribution; the others are kept as they are.
func (s *SQLiteStorage) SetLabel(ctx context.Context, ownerID, txID int64, target model.Target) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return err
	}
	if target.IsZero() {
		return model.ErrEmptyTarget
	}

	category, payee := nullID(target.CategoryID()), nullID(target.PayeeID())
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			category_id = COALESCE(?1, category_id),
			category_rule_id = CASE WHEN ?1 IS NULL THEN category_rule_id END,
			payee_id = COALESCE(?2, payee_id),
			payee_rule_id = CASE WHEN ?2 IS NULL THEN payee_rule_id END
		WHERE id = ?3 AND owner_id = ?4
	`, category, payee, txID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to label transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return s.checkOwned(ctx, "transactions", ownerID, txID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn                     model.Transaction
		amount                  string
		category, payee         sql.NullInt64
		categoryRule, payeeRule sql.NullInt64
	)
	err := row.Scan(
		&txn.ID, &txn.OwnerID, &txn.Date, &txn.Description, &amount, &txn.Currency,
		&category, &payee, &categoryRule, &payeeRule,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %d has malformed amount %q: %w", txn.ID, amount, err)
	}
	txn.CategoryID = idPtr(category)
	txn.PayeeID = idPtr(payee)
	txn.CategoryRuleID = idPtr(categoryRule)
	txn.PayeeRuleID = idPtr(payeeRule)

	return &txn, nil
}
