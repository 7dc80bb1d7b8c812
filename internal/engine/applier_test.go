package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
	"github.com/indiepalbien/app-finzas/internal/pattern"
	"github.com/indiepalbien/app-finzas/internal/service"
)

type fakeMatcher struct {
	err     error
	matches []pattern.Match
	calls   int
}

func (m *fakeMatcher) FindMatches(context.Context, int64, string, decimal.Decimal, string) ([]pattern.Match, error) {
	m.calls++
	return m.matches, m.err
}

// fillStore records fills and usage increments.
type fillStore struct {
	service.TransactionStore
	service.RuleStore
	fillErr     error
	incErr      error
	filledWith  []int64
	incremented []int64
	result      model.FillResult
}

func (s *fillStore) FillTransaction(_ context.Context, _, _ int64, _ model.Target, ruleID int64) (model.FillResult, error) {
	s.filledWith = append(s.filledWith, ruleID)
	return s.result, s.fillErr
}

func (s *fillStore) IncrementUsage(_ context.Context, _, ruleID int64) error {
	s.incremented = append(s.incremented, ruleID)
	return s.incErr
}

func ruleMatch(t *testing.T, id int64, cat, payee *int64) pattern.Match {
	t.Helper()
	target, err := model.NewTarget(cat, payee)
	require.NoError(t, err)
	return pattern.Match{
		Rule:  model.CategorizationRule{ID: id, OwnerID: 1, Tier: model.TierTokensOnly, Target: target, Tokens: []string{"x1"}},
		Score: 0.9,
	}
}

func id(v int64) *int64 { return &v }

func TestApplier_ApplyBest(t *testing.T) {
	ctx := context.Background()
	open := model.Transaction{ID: 7, OwnerID: 1, Description: "X1"}

	t.Run("resolved transaction is skipped", func(t *testing.T) {
		m := &fakeMatcher{}
		a := NewApplier(m, &fillStore{}, &fillStore{})

		applied, err := a.ApplyBest(ctx, model.Transaction{ID: 1, OwnerID: 1, CategoryID: id(1), PayeeID: id(2)})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Zero(t, m.calls)
	})

	t.Run("no match", func(t *testing.T) {
		store := &fillStore{}
		a := NewApplier(&fakeMatcher{matches: []pattern.Match{}}, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Empty(t, store.filledWith)
	})

	t.Run("best match fills and counts", func(t *testing.T) {
		store := &fillStore{result: model.FillResult{CategoryFilled: true, PayeeFilled: true}}
		m := &fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), id(20)), ruleMatch(t, 4, id(11), nil)}}
		a := NewApplier(m, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, []int64{3}, store.filledWith)
		assert.Equal(t, []int64{3}, store.incremented)
	})

	t.Run("skips matches that cannot contribute", func(t *testing.T) {
		store := &fillStore{result: model.FillResult{PayeeFilled: true}}
		m := &fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), nil), ruleMatch(t, 4, id(11), id(21))}}
		a := NewApplier(m, store, store)

		withCategory := open
		withCategory.CategoryID = id(99)

		applied, err := a.ApplyBest(ctx, withCategory)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, []int64{4}, store.filledWith)
	})

	t.Run("lost race is not an error", func(t *testing.T) {
		store := &fillStore{}
		a := NewApplier(&fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), nil)}}, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Empty(t, store.incremented)
	})

	t.Run("persistence conflict is swallowed", func(t *testing.T) {
		store := &fillStore{fillErr: common.ErrPersistenceConflict}
		a := NewApplier(&fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), nil)}}, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("fill failure", func(t *testing.T) {
		boom := errors.New("readonly database")
		store := &fillStore{fillErr: boom}
		a := NewApplier(&fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), nil)}}, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.ErrorIs(t, err, boom)
		assert.False(t, applied)
	})

	t.Run("usage failure still reports the fill", func(t *testing.T) {
		boom := errors.New("busy")
		store := &fillStore{result: model.FillResult{CategoryFilled: true}, incErr: boom}
		a := NewApplier(&fakeMatcher{matches: []pattern.Match{ruleMatch(t, 3, id(10), nil)}}, store, store)

		applied, err := a.ApplyBest(ctx, open)
		require.ErrorIs(t, err, boom)
		assert.True(t, applied)
	})

	t.Run("matcher failure", func(t *testing.T) {
		a := NewApplier(&fakeMatcher{err: common.OwnerMismatchError(1, 2, "rule 3")}, &fillStore{}, &fillStore{})

		_, err := a.ApplyBest(ctx, open)
		require.ErrorIs(t, err, common.ErrOwnerMismatch)
		assert.True(t, common.IsFatal(err))
	})
}
