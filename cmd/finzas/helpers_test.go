package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/config"
	"github.com/indiepalbien/app-finzas/internal/model"
)

func useTestConfig(t *testing.T) {
	t.Helper()
	previous := cfg
	cfg = config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "finzas.db")
	t.Cleanup(func() { cfg = previous })
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		want    decimal.Decimal
		name    string
		input   string
		wantErr bool
	}{
		{name: "decimal", input: "5.50", want: decimal.RequireFromString("5.5")},
		{name: "empty is zero", input: "", want: decimal.Zero},
		{name: "negative", input: "-12", want: decimal.NewFromInt(-12)},
		{name: "garbage", input: "five", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if tt.wantErr {
				var userErr *common.UserError
				require.ErrorAs(t, err, &userErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

	got, err := parseDate("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2024-02-29", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2024-02-29T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = parseDate("29/02/2024", now)
	require.Error(t, err)
}

func TestMatcherOptions(t *testing.T) {
	rules := config.Default().Rules
	rules.AmountTolerance = "0.01"

	opts, err := matcherOptions(rules)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, opts.Weights[model.TierTokensOnly], 1e-9)
	assert.InDelta(t, 1.0, opts.Weights[model.TierTokensAmountCurrency], 1e-9)
	assert.True(t, decimal.RequireFromString("0.01").Equal(opts.AmountTolerance))
	assert.InDelta(t, 0.35, opts.MinScore, 1e-9)

	rules.AmountTolerance = "-1"
	_, err = matcherOptions(rules)
	require.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestRequireOwner(t *testing.T) {
	require.Error(t, requireOwner(0))
	require.NoError(t, requireOwner(3))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "starbuc...", truncateString("starbucks coffee", 10))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
	assert.Equal(t, "café", truncateString("café", 4))
	assert.Equal(t, "Ñandú ...", truncateString("Ñandú Panadería", 9))
	assert.True(t, utf8.ValidString(truncateString("crédito año", 4)))
}

func TestApp_LabelThenApply(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	a, cleanup, err := newApp(ctx, engineOptions())
	require.NoError(t, err)
	defer cleanup()

	owner, err := a.store.CreateOwner(ctx, "ana")
	require.NoError(t, err)

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	labeled := model.Transaction{OwnerID: owner.ID, Description: "STARB COFFEE SHOP MAIN ST", Amount: decimal.RequireFromString("5.50"), Currency: "USD", Date: day}
	similar := model.Transaction{OwnerID: owner.ID, Description: "STARB COFFEE SHOP AIRPORT", Amount: decimal.RequireFromString("7.20"), Currency: "USD", Date: day}
	require.NoError(t, a.store.CreateTransaction(ctx, &labeled))
	require.NoError(t, a.store.CreateTransaction(ctx, &similar))

	target, err := resolveTarget(ctx, a.store, owner.ID, "Food", "Starbucks")
	require.NoError(t, err)

	a.queue.Start(ctx)
	res, err := a.learner.Label(ctx, owner.ID, labeled.ID, target)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	require.True(t, res.Dispatched)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.queue.Drain(drainCtx))

	got, err := a.store.GetTransaction(ctx, owner.ID, similar.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, *target.CategoryID(), *got.CategoryID)
	assert.Equal(t, *target.PayeeID(), *got.PayeeID)

	_, err = resolveTarget(ctx, a.store, owner.ID, " ", "")
	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
}
