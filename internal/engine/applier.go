package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/pattern"
	"github.com/indiepalbien/app-finzas/internal/service"
)

// Ensure Applier implements TransactionApplier interface.
var _ TransactionApplier = (*Applier)(nil)

// Applier fills a transaction's empty fields from its best matching rule.
type Applier struct {
	matcher pattern.Matcher
	txns    service.TransactionStore
	rules   service.RuleStore
}

// NewApplier creates an applier.
func NewApplier(matcher pattern.Matcher, txns service.TransactionStore, rules service.RuleStore) *Applier {
	return &Applier{matcher: matcher, txns: txns, rules: rules}
}

// ApplyBest fills the null category and payee of txn. It does not always use
// the top ranked match: matches whose target only covers fields txn already
// has are passed over, and the highest ranked rule that can fill at least one
// null field wins. A payee-only rule ranked first therefore does not stop a
// lower ranked rule from filling a missing category. It never overwrites a
// set field. It returns false when nothing was written, including when a
// concurrent writer filled the fields first.
func (a *Applier) ApplyBest(ctx context.Context, txn model.Transaction) (bool, error) {
	if txn.Resolved() {
		return false, nil
	}

	matches, err := a.matcher.FindMatches(ctx, txn.OwnerID, txn.Description, txn.Amount, txn.Currency)
	if err != nil {
		return false, fmt.Errorf("failed to match transaction %d: %w", txn.ID, err)
	}

	match, ok := firstContributing(txn, matches)
	if !ok {
		return false, nil
	}
	rule := match.Rule

	result, err := a.txns.FillTransaction(ctx, txn.OwnerID, txn.ID, rule.Target, rule.ID)
	if errors.Is(err, common.ErrPersistenceConflict) {
		slog.Debug("Lost fill race", "tx_id", txn.ID, "rule_id", rule.ID, "error", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fill transaction %d: %w", txn.ID, err)
	}
	if !result.Applied() {
		slog.Debug("Transaction filled concurrently", "tx_id", txn.ID, "rule_id", rule.ID)
		return false, nil
	}

	if err := a.rules.IncrementUsage(ctx, txn.OwnerID, rule.ID); err != nil {
		return true, fmt.Errorf("filled transaction %d but failed to count rule %d: %w", txn.ID, rule.ID, err)
	}

	slog.Debug("Applied rule",
		"owner_id", txn.OwnerID,
		"tx_id", txn.ID,
		"rule_id", rule.ID,
		"tier", rule.Tier,
		"score", match.Score,
		"category_filled", result.CategoryFilled,
		"payee_filled", result.PayeeFilled)

	return true, nil
}

// firstContributing returns the best match whose target covers a field txn still lacks.
func firstContributing(txn model.Transaction, matches []pattern.Match) (pattern.Match, bool) {
	for _, m := range matches {
		if txn.CategoryID == nil && m.Rule.Target.CategoryID() != nil {
			return m, true
		}
		if txn.PayeeID == nil && m.Rule.Target.PayeeID() != nil {
			return m, true
		}
	}
	return pattern.Match{}, false
}
