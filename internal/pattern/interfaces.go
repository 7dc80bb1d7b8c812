// Package pattern turns transaction descriptions into token patterns, derives
// categorization rules from labeled transactions and scores stored rules
// against unlabeled ones.
package pattern

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/model"
)

// Tokenizer turns a raw description into its canonical token set.
type Tokenizer interface {
	// Normalize must be pure: the same description always yields the same tokens.
	Normalize(description string) Tokens
}

// RuleGenerator derives rule drafts from a human-labeled transaction.
type RuleGenerator interface {
	// Generate returns common.ErrInsufficientSignal when the description has no usable tokens.
	Generate(txn model.Transaction) ([]model.RuleDraft, error)
}

// Matcher finds and ranks an owner's rules against a transaction.
type Matcher interface {
	// FindMatches returns qualifying rules sorted best first. No match is an empty slice.
	FindMatches(ctx context.Context, ownerID int64, description string, amount decimal.Decimal, currency string) ([]Match, error)
}

// RuleSource supplies the rules a matcher scores.
type RuleSource interface {
	// CandidateRules returns the owner's active rules sharing at least one token.
	CandidateRules(ctx context.Context, ownerID int64, tokens []string) ([]model.CategorizationRule, error)
}

// Match is a rule that qualified for a query, with its score.
type Match struct {
	Rule    model.CategorizationRule
	Overlap float64
	Score   float64
}
