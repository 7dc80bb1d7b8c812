package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/indiepalbien/app-finzas/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidOwner       = errors.New("invalid owner id")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidRule        = errors.New("invalid rule")
	ErrInvalidCriteria    = errors.New("invalid retire criteria")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateOwnerID(ownerID int64) error {
	if ownerID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOwner, ownerID)
	}
	return nil
}

// validateTransaction validates a transaction before insert.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if err := validateOwnerID(txn.OwnerID); err != nil {
		return err
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(txn.Description) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	if txn.Currency != "" && len(txn.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidTransaction, txn.Currency)
	}
	return nil
}

// validateDraft checks that a draft is consistent with its tier.
func validateDraft(draft *model.RuleDraft) error {
	if err := validateOwnerID(draft.OwnerID); err != nil {
		return err
	}
	if len(draft.Tokens) == 0 {
		return fmt.Errorf("%w: no tokens", ErrInvalidRule)
	}
	if draft.Target.IsZero() {
		return fmt.Errorf("%w: %v", ErrInvalidRule, model.ErrEmptyTarget)
	}
	if _, err := model.ParseTier(string(draft.Tier)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if draft.Tier.HasAmount() != (draft.Amount != nil) {
		return fmt.Errorf("%w: tier %s and amount disagree", ErrInvalidRule, draft.Tier)
	}
	if draft.Tier.HasCurrency() != (draft.Currency != nil) {
		return fmt.Errorf("%w: tier %s and currency disagree", ErrInvalidRule, draft.Tier)
	}
	if draft.Currency != nil && len(*draft.Currency) != 3 {
		return fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidRule, *draft.Currency)
	}
	return nil
}

func validateCriteria(c model.RetireCriteria) error {
	if c.MinAge < 0 {
		return fmt.Errorf("%w: negative min age", ErrInvalidCriteria)
	}
	if c.MaxUsage < 0 {
		return fmt.Errorf("%w: negative max usage", ErrInvalidCriteria)
	}
	if c.MinAccuracy < 0 || c.MinAccuracy > 1 {
		return fmt.Errorf("%w: min accuracy must be between 0 and 1", ErrInvalidCriteria)
	}
	return nil
}
