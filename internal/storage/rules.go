package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
)

const ruleColumns = `r.id, r.owner_id, r.tokens, r.tier, r.amount, r.currency,
	r.category_id, r.payee_id, r.usage_count, r.miss_count,
	r.created_at, r.updated_at, r.retired_at`

// accuracyExpr mirrors model.Accuracy.
const accuracyExpr = `CASE WHEN usage_count + miss_count > 0
	THEN CAST(usage_count AS REAL) / (usage_count + miss_count)
	ELSE 1.0 END`

// MergeRule stores a draft. A rule with the same owner, token set, tier,
// amount and currency absorbs it: its usage grows by one, the target is
// replaced by the draft's and a retired rule becomes active again.
func (s *SQLiteStorage) MergeRule(ctx context.Context, draft model.RuleDraft) (model.MergeResult, error) {
	if err := validateContext(ctx); err != nil {
		return model.MergeResult{}, err
	}
	if err := validateDraft(&draft); err != nil {
		return model.MergeResult{}, err
	}

	amount, currency := "", ""
	if draft.Amount != nil {
		amount = draft.Amount.String()
	}
	if draft.Currency != nil {
		currency = strings.ToUpper(*draft.Currency)
	}
	now := s.now()

	var result model.MergeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id, usage int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO rules (
				owner_id, token_key, tokens, tier, amount, currency,
				category_id, payee_id, usage_count, miss_count, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT (owner_id, token_key, tier, amount, currency) DO UPDATE SET
				usage_count = usage_count + 1,
				category_id = excluded.category_id,
				payee_id = excluded.payee_id,
				updated_at = excluded.updated_at,
				retired_at = NULL
			RETURNING id, usage_count
		`,
			draft.OwnerID, draft.TokenKey(), strings.Join(draft.Tokens, " "), string(draft.Tier), amount, currency,
			nullID(draft.Target.CategoryID()), nullID(draft.Target.PayeeID()), now, now,
		).Scan(&id, &usage)
		if err != nil {
			return fmt.Errorf("failed to merge rule: %w", err)
		}

		for _, tok := range draft.Tokens {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO rule_tokens (rule_id, token) VALUES (?, ?)", id, tok,
			); err != nil {
				return fmt.Errorf("failed to index rule token %q: %w", tok, err)
			}
		}

		rule, err := scanRule(tx.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules r WHERE r.id = ?", id))
		if err != nil {
			return err
		}

		result = model.MergeResult{Rule: *rule, Created: usage == 1}
		return nil
	})
	if err != nil {
		return model.MergeResult{}, err
	}

	return result, nil
}

// CandidateRules returns the owner's active rules sharing at least one of tokens.
func (s *SQLiteStorage) CandidateRules(ctx context.Context, ownerID int64, tokens []string) ([]model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return []model.CategorizationRule{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tokens)), ", ")
	args := make([]any, 0, len(tokens)+1)
	args = append(args, ownerID)
	for _, tok := range tokens {
		args = append(args, tok)
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM rules r
		WHERE r.owner_id = ? AND r.retired_at IS NULL
			AND r.id IN (SELECT rule_id FROM rule_tokens WHERE token IN (`+placeholders+`))
		ORDER BY r.id
	`, args...)
}

// ListRules returns the owner's rules, most used first.
func (s *SQLiteStorage) ListRules(ctx context.Context, ownerID int64, includeRetired bool) ([]model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules r WHERE r.owner_id = ?`
	if !includeRetired {
		query += ` AND r.retired_at IS NULL`
	}
	query += ` ORDER BY r.usage_count DESC, r.id ASC`

	return s.queryRules(ctx, query, ownerID)
}

// GetRule loads one of the owner's rules.
func (s *SQLiteStorage) GetRule(ctx context.Context, ownerID, ruleID int64) (*model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}

	rule, err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules r WHERE r.id = ?", ruleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d: %w", ruleID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if rule.OwnerID != ownerID {
		return nil, common.OwnerMismatchError(ownerID, rule.OwnerID, fmt.Sprintf("rule %d", ruleID))
	}

	return rule, nil
}

// IncrementUsage records one successful application of a rule.
func (s *SQLiteStorage) IncrementUsage(ctx context.Context, ownerID, ruleID int64) error {
	return s.bumpRule(ctx, ownerID, ruleID,
		"UPDATE rules SET usage_count = usage_count + 1, updated_at = ? WHERE id = ? AND owner_id = ?",
		s.now(), ruleID, ownerID)
}

// RecordMiss records that a human overrode what the rule applied.
func (s *SQLiteStorage) RecordMiss(ctx context.Context, ownerID, ruleID int64) error {
	return s.bumpRule(ctx, ownerID, ruleID,
		"UPDATE rules SET miss_count = miss_count + 1 WHERE id = ? AND owner_id = ?",
		ruleID, ownerID)
}

func (s *SQLiteStorage) bumpRule(ctx context.Context, ownerID, ruleID int64, query string, args ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", ruleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if err := s.checkOwned(ctx, "rules", ownerID, ruleID); err != nil {
			return err
		}
	}
	return nil
}

// RuleStats aggregates the owner's rule set. Counts and averages cover
// active rules, applications cover every rule ever learned.
func (s *SQLiteStorage) RuleStats(ctx context.Context, ownerID int64) (model.RuleStats, error) {
	if err := validateContext(ctx); err != nil {
		return model.RuleStats{}, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return model.RuleStats{}, err
	}

	stats := model.RuleStats{ByTier: make(map[model.Tier]int64)}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN retired_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN retired_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0),
			COALESCE(AVG(CASE WHEN retired_at IS NULL THEN `+accuracyExpr+` END), 0)
		FROM rules
		WHERE owner_id = ?
	`, ownerID).Scan(&stats.TotalRules, &stats.RetiredRules, &stats.TotalApplications, &stats.AvgAccuracy)
	if err != nil {
		return model.RuleStats{}, fmt.Errorf("failed to aggregate rules: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, COUNT(*) FROM rules
		WHERE owner_id = ? AND retired_at IS NULL
		GROUP BY tier
	`, ownerID)
	if err != nil {
		return model.RuleStats{}, fmt.Errorf("failed to count rules by tier: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			tier  string
			count int64
		)
		if err := rows.Scan(&tier, &count); err != nil {
			return model.RuleStats{}, fmt.Errorf("failed to scan tier count: %w", err)
		}
		t, err := model.ParseTier(tier)
		if err != nil {
			return model.RuleStats{}, err
		}
		stats.ByTier[t] = count
	}
	if err := rows.Err(); err != nil {
		return model.RuleStats{}, fmt.Errorf("error iterating tier counts: %w", err)
	}

	return stats, nil
}

// RetireRules flags active rules that are older than MinAge, used fewer than
// MaxUsage times and less accurate than MinAccuracy. It returns how many were flagged.
func (s *SQLiteStorage) RetireRules(ctx context.Context, ownerID int64, criteria model.RetireCriteria, now time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateOwnerID(ownerID); err != nil {
		return 0, err
	}
	if err := validateCriteria(criteria); err != nil {
		return 0, err
	}

	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET retired_at = ?
		WHERE owner_id = ? AND retired_at IS NULL
			AND created_at < ?
			AND usage_count < ?
			AND `+accuracyExpr+` < ?
	`, now, ownerID, now.Add(-criteria.MinAge), criteria.MaxUsage, criteria.MinAccuracy)
	if err != nil {
		return 0, fmt.Errorf("failed to retire rules: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.CategorizationRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rules := []model.CategorizationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func scanRule(row rowScanner) (*model.CategorizationRule, error) {
	var (
		rule                model.CategorizationRule
		tokens, tier        string
		amount, currency    string
		categoryID, payeeID sql.NullInt64
		retiredAt           sql.NullTime
	)
	err := row.Scan(
		&rule.ID, &rule.OwnerID, &tokens, &tier, &amount, &currency,
		&categoryID, &payeeID, &rule.UsageCount, &rule.MissCount,
		&rule.CreatedAt, &rule.UpdatedAt, &retiredAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.Tokens = strings.Fields(tokens)
	if rule.Tier, err = model.ParseTier(tier); err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}
	if amount != "" {
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("rule %d has malformed amount %q: %w", rule.ID, amount, err)
		}
		rule.Amount = &a
	}
	if currency != "" {
		c := currency
		rule.Currency = &c
	}
	if rule.Target, err = model.NewTarget(idPtr(categoryID), idPtr(payeeID)); err != nil {
		return nil, fmt.Errorf("rule %d: %w", rule.ID, err)
	}
	if retiredAt.Valid {
		t := retiredAt.Time
		rule.RetiredAt = &t
	}

	return &rule, nil
}
