package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/model"
)

func TestMaintainer_GetStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.db.NewOwner("ana")

	txn := ana.AddTransaction("STARB COFFEE SHOP MAIN ST", "5.50", "USD", day)
	_, err := h.learner.Label(ctx, ana.ID, txn.ID, ana.Target("Food", "Starbucks"))
	require.NoError(t, err)

	stats, err := h.maintainer.GetStats(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalRules)
	assert.Equal(t, int64(4), stats.TotalApplications)
	assert.InDelta(t, 1.0, stats.AvgAccuracy, 1e-9)
	for _, tier := range model.Tiers {
		assert.Equal(t, int64(1), stats.ByTier[tier], tier)
	}
}

func TestMaintainer_RetireStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana := h.db.NewOwner("ana")
	bruno := h.db.NewOwner("bruno")

	labeled := ana.AddTransaction("GYM MEMBERSHIP", "30", "", day)
	res, err := h.learner.Label(ctx, ana.ID, labeled.ID, ana.Target("Health", ""))
	require.NoError(t, err)
	require.Len(t, res.Rules, 2) // tokens only and amount

	only := res.Rules[0]
	for i := 0; i < 2; i++ {
		require.NoError(t, h.db.Storage.RecordMiss(ctx, ana.ID, only.ID))
	}

	criteria := DefaultRetireCriteria()

	n, err := h.maintainer.RetireStale(ctx, ana.ID, criteria)
	require.NoError(t, err)
	assert.Zero(t, n, "rules are too young")

	h.maintainer.now = func() time.Time { return time.Now().Add(criteria.MinAge + time.Hour) }

	retired, err := h.maintainer.RetireStaleAll(ctx, criteria)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{ana.ID: 1, bruno.ID: 0}, retired)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.retired), 1e-9)

	rule, err := h.db.Storage.GetRule(ctx, ana.ID, only.ID)
	require.NoError(t, err)
	assert.False(t, rule.Active())

	stats, err := h.maintainer.GetStats(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRules)
	assert.Equal(t, int64(1), stats.RetiredRules)
}
