package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyTarget is returned when a rule target would reference neither a category nor a payee.
var ErrEmptyTarget = errors.New("rule target needs a category or a payee")

// Tier is the specificity shape of a categorization rule.
type Tier string

// Rule tiers. Every label event generates at most one rule per tier.
const (
	TierTokensOnly           Tier = "tokens_only"
	TierTokensCurrency       Tier = "tokens_currency"
	TierTokensAmount         Tier = "tokens_amount"
	TierTokensAmountCurrency Tier = "tokens_amount_currency"
)

// Tiers lists every tier in generation order.
var Tiers = []Tier{
	TierTokensOnly,
	TierTokensAmountCurrency,
	TierTokensCurrency,
	TierTokensAmount,
}

// ParseTier converts a stored tier name back to a Tier.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierTokensOnly, TierTokensCurrency, TierTokensAmount, TierTokensAmountCurrency:
		return t, nil
	}
	return "", fmt.Errorf("unknown rule tier %q", s)
}

// Specificity ranks tiers for tie-breaking. Higher is more constrained.
func (t Tier) Specificity() int {
	switch t {
	case TierTokensAmountCurrency:
		return 3
	case TierTokensAmount:
		return 2
	case TierTokensCurrency:
		return 1
	default:
		return 0
	}
}

// HasAmount reports whether rules of this tier carry an exact amount.
func (t Tier) HasAmount() bool {
	return t == TierTokensAmount || t == TierTokensAmountCurrency
}

// HasCurrency reports whether rules of this tier carry a currency.
func (t Tier) HasCurrency() bool {
	return t == TierTokensCurrency || t == TierTokensAmountCurrency
}

// Target is what a rule assigns: a category, a payee, or both.
type Target struct {
	categoryID *int64
	payeeID    *int64
}

// NewTarget builds a target, rejecting one with neither reference.
func NewTarget(categoryID, payeeID *int64) (Target, error) {
	if categoryID == nil && payeeID == nil {
		return Target{}, ErrEmptyTarget
	}
	return Target{categoryID: copyID(categoryID), payeeID: copyID(payeeID)}, nil
}

// CategoryID returns the target category, or nil.
func (t Target) CategoryID() *int64 { return copyID(t.categoryID) }

// PayeeID returns the target payee, or nil.
func (t Target) PayeeID() *int64 { return copyID(t.payeeID) }

// IsZero reports whether the target was never constructed.
func (t Target) IsZero() bool {
	return t.categoryID == nil && t.payeeID == nil
}

// Equal compares both references by value.
func (t Target) Equal(o Target) bool {
	return sameID(t.categoryID, o.categoryID) && sameID(t.payeeID, o.payeeID)
}

// CategorizationRule is a learned pattern that assigns a target to matching transactions.
type CategorizationRule struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RetiredAt  *time.Time
	Amount     *decimal.Decimal
	Currency   *string
	Target     Target
	Tier       Tier
	Tokens     []string // Unique tokens in first-seen order, for display
	ID         int64
	OwnerID    int64
	UsageCount int64
	MissCount  int64
}

// Accuracy is the hit ratio of the rule, 1.0 while it was never contested.
func (r *CategorizationRule) Accuracy() float64 {
	return Accuracy(r.UsageCount, r.MissCount)
}

// TokenKey returns the canonical form of the rule tokens.
func (r *CategorizationRule) TokenKey() string {
	return TokenKey(r.Tokens)
}

// Active reports whether maintenance has not retired the rule.
func (r *CategorizationRule) Active() bool {
	return r.RetiredAt == nil
}

// String renders the rule the way listings show it.
func (r *CategorizationRule) String() string {
	parts := []string{strings.Join(r.Tokens, " ")}
	if r.Amount != nil {
		parts = append(parts, r.Amount.String())
	}
	if r.Currency != nil {
		parts = append(parts, *r.Currency)
	}
	return strings.Join(parts, " + ")
}

// RuleDraft is a rule produced by the generator, not yet stored.
type RuleDraft struct {
	Amount   *decimal.Decimal
	Currency *string
	Target   Target
	Tier     Tier
	Tokens   []string
	OwnerID  int64
}

// TokenKey returns the canonical form of the draft tokens.
func (d *RuleDraft) TokenKey() string {
	return TokenKey(d.Tokens)
}

// MergeResult is the outcome of storing a draft.
type MergeResult struct {
	Rule    CategorizationRule
	Created bool
}

// RuleStats aggregates an owner's rule set.
type RuleStats struct {
	ByTier            map[Tier]int64
	TotalRules        int64
	RetiredRules      int64
	TotalApplications int64
	AvgAccuracy       float64
}

// RetireCriteria selects stale rules. A rule must meet every bound.
type RetireCriteria struct {
	MinAge      time.Duration
	MaxUsage    int64
	MinAccuracy float64
}

// Accuracy computes usage / (usage + miss), defaulting to 1.0.
func Accuracy(usage, miss int64) float64 {
	if usage+miss <= 0 {
		return 1.0
	}
	return float64(usage) / float64(usage+miss)
}

// TokenKey sorts and joins tokens so that equal sets share one key.
func TokenKey(tokens []string) string {
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
