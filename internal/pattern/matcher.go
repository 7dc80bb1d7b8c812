package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
)

// Ensure ScoringMatcher implements Matcher interface.
var _ Matcher = (*ScoringMatcher)(nil)

// Default matching thresholds.
const (
	DefaultMinScore    = 0.35
	DefaultMinAccuracy = 0.5
)

// MatcherOptions tunes rule scoring.
type MatcherOptions struct {
	Weights         map[model.Tier]float64
	AmountTolerance decimal.Decimal // Zero means exact amount match
	MinScore        float64
	MinAccuracy     float64
}

// DefaultWeights returns the specificity bonus of each tier.
func DefaultWeights() map[model.Tier]float64 {
	return map[model.Tier]float64{
		model.TierTokensOnly:           0.8,
		model.TierTokensCurrency:       0.9,
		model.TierTokensAmount:         0.9,
		model.TierTokensAmountCurrency: 1.0,
	}
}

// DefaultMatcherOptions returns the default thresholds and weights.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		Weights:     DefaultWeights(),
		MinScore:    DefaultMinScore,
		MinAccuracy: DefaultMinAccuracy,
	}
}

// ScoringMatcher implements Matcher over a RuleSource.
type ScoringMatcher struct {
	source    RuleSource
	tokenizer Tokenizer
	opts      MatcherOptions
}

// NewMatcher creates a matcher reading rules from source.
func NewMatcher(source RuleSource, tokenizer Tokenizer, opts MatcherOptions) *ScoringMatcher {
	if opts.Weights == nil {
		opts.Weights = DefaultWeights()
	}
	return &ScoringMatcher{
		source:    source,
		tokenizer: tokenizer,
		opts:      opts,
	}
}

// FindMatches normalizes the description, scores the owner's candidate rules
// and returns those that qualify, best first.
func (m *ScoringMatcher) FindMatches(ctx context.Context, ownerID int64, description string, amount decimal.Decimal, currency string) ([]Match, error) {
	query := m.tokenizer.Normalize(description)
	if query.Len() == 0 {
		return []Match{}, nil
	}

	rules, err := m.source.CandidateRules(ctx, ownerID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate rules: %w", err)
	}

	for _, rule := range rules {
		if rule.OwnerID != ownerID {
			return nil, common.OwnerMismatchError(ownerID, rule.OwnerID, fmt.Sprintf("rule %d", rule.ID))
		}
	}

	return Rank(query, amount, currency, rules, m.opts), nil
}

// Rank scores rules against a normalized query and returns the qualifying
// ones sorted by score, then specificity, usage and recency.
func Rank(query Tokens, amount decimal.Decimal, currency string, rules []model.CategorizationRule, opts MatcherOptions) []Match {
	q := query.Set()

	matches := make([]Match, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active() {
			continue
		}

		overlap := Overlap(q, rule.Tokens)
		if overlap == 0 {
			continue
		}

		if !constraintsHold(rule, amount, currency, opts.AmountTolerance) {
			continue
		}

		accuracy := rule.Accuracy()
		if accuracy < opts.MinAccuracy {
			continue
		}

		score := overlap * opts.Weights[rule.Tier] * accuracy
		if score < opts.MinScore {
			continue
		}

		matches = append(matches, Match{Rule: rule, Overlap: overlap, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return better(matches[i], matches[j])
	})

	return matches
}

// Overlap is the fraction of the rule's tokens present in the query.
func Overlap(query map[string]struct{}, ruleTokens []string) float64 {
	seen := make(map[string]struct{}, len(ruleTokens))
	hits := 0
	for _, tok := range ruleTokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := query[tok]; ok {
			hits++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(hits) / float64(len(seen))
}

// constraintsHold checks the amount and currency qualifiers of a rule.
func constraintsHold(rule model.CategorizationRule, amount decimal.Decimal, currency string, tolerance decimal.Decimal) bool {
	if rule.Tier.HasAmount() {
		if rule.Amount == nil {
			return false
		}
		if tolerance.IsPositive() {
			if amount.Sub(*rule.Amount).Abs().GreaterThan(tolerance) {
				return false
			}
		} else if !amount.Equal(*rule.Amount) {
			return false
		}
	}

	if rule.Tier.HasCurrency() {
		if rule.Currency == nil || !strings.EqualFold(*rule.Currency, strings.TrimSpace(currency)) {
			return false
		}
	}

	return true
}

// better orders matches: score, specificity, usage, recency, then id for determinism.
func better(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if sa, sb := a.Rule.Tier.Specificity(), b.Rule.Tier.Specificity(); sa != sb {
		return sa > sb
	}
	if a.Rule.UsageCount != b.Rule.UsageCount {
		return a.Rule.UsageCount > b.Rule.UsageCount
	}
	if !a.Rule.UpdatedAt.Equal(b.Rule.UpdatedAt) {
		return a.Rule.UpdatedAt.After(b.Rule.UpdatedAt)
	}
	return a.Rule.ID < b.Rule.ID
}
