package pattern

import (
	"fmt"
	"strings"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
)

// Ensure Generator implements RuleGenerator interface.
var _ RuleGenerator = (*Generator)(nil)

// Generator derives the fixed family of tiered rule drafts from one labeled transaction.
type Generator struct {
	tokenizer Tokenizer
}

// NewGenerator creates a generator that tokenizes with tokenizer.
func NewGenerator(tokenizer Tokenizer) *Generator {
	return &Generator{tokenizer: tokenizer}
}

// Generate returns up to four drafts: tokens only, tokens with amount and
// currency, tokens with currency, and tokens with amount. Tiers whose
// qualifier is unavailable on the transaction are skipped.
func (g *Generator) Generate(txn model.Transaction) ([]model.RuleDraft, error) {
	target, err := txn.Target()
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", txn.ID, err)
	}

	tokens := g.tokenizer.Normalize(txn.Description)
	if tokens.Len() == 0 {
		return nil, fmt.Errorf("transaction %d %q: %w", txn.ID, txn.Description, common.ErrInsufficientSignal)
	}

	amount := txn.Amount
	currency := strings.ToUpper(txn.Currency)

	drafts := make([]model.RuleDraft, 0, len(model.Tiers))
	for _, tier := range model.Tiers {
		if tier.HasAmount() && !txn.HasAmount() {
			continue
		}
		if tier.HasCurrency() && !txn.HasCurrency() {
			continue
		}

		draft := model.RuleDraft{
			OwnerID: txn.OwnerID,
			Tokens:  clone(tokens),
			Tier:    tier,
			Target:  target,
		}
		if tier.HasAmount() {
			a := amount
			draft.Amount = &a
		}
		if tier.HasCurrency() {
			c := currency
			draft.Currency = &c
		}
		drafts = append(drafts, draft)
	}

	return drafts, nil
}
