// Package model defines the core data structures for the finzas rule engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single financial transaction owned by one user.
// Category and payee stay nil until a human or a rule fills them.
type Transaction struct {
	Date           time.Time
	CategoryID     *int64
	PayeeID        *int64
	CategoryRuleID *int64 // Rule that filled CategoryID, cleared when a human sets it
	PayeeRuleID    *int64 // Rule that filled PayeeID, cleared when a human sets it
	Description    string // Raw transaction description
	Currency       string // ISO 4217 code, upper case
	Amount         decimal.Decimal
	ID             int64
	OwnerID        int64
}

// Resolved reports whether both category and payee are already set.
func (t *Transaction) Resolved() bool {
	return t.CategoryID != nil && t.PayeeID != nil
}

// Target returns the transaction's current labels as a rule target.
func (t *Transaction) Target() (Target, error) {
	return NewTarget(t.CategoryID, t.PayeeID)
}

// HasAmount reports whether the amount can qualify a rule.
func (t *Transaction) HasAmount() bool {
	return !t.Amount.IsZero()
}

// HasCurrency reports whether the currency can qualify a rule.
func (t *Transaction) HasCurrency() bool {
	return len(t.Currency) == 3
}

// FillResult reports which fields a conditional fill actually wrote.
type FillResult struct {
	CategoryFilled bool
	PayeeFilled    bool
}

// Applied reports whether any field was written.
func (r FillResult) Applied() bool {
	return r.CategoryFilled || r.PayeeFilled
}
