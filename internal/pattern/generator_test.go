package pattern

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiepalbien/app-finzas/internal/common"
	"github.com/indiepalbien/app-finzas/internal/model"
)

func int64Ptr(v int64) *int64 { return &v }

func TestGenerator_Generate(t *testing.T) {
	gen := NewGenerator(NewDefaultNormalizer())

	food, starbucks := int64Ptr(10), int64Ptr(20)

	t.Run("all four tiers", func(t *testing.T) {
		drafts, err := gen.Generate(model.Transaction{
			ID:          1,
			OwnerID:     7,
			Description: "STARB COFFEE SHOP MAIN ST",
			Amount:      decimal.RequireFromString("5.50"),
			Currency:    "USD",
			CategoryID:  food,
			PayeeID:     starbucks,
		})
		require.NoError(t, err)
		require.Len(t, drafts, 4)

		want := []model.Tier{
			model.TierTokensOnly,
			model.TierTokensAmountCurrency,
			model.TierTokensCurrency,
			model.TierTokensAmount,
		}
		for i, d := range drafts {
			assert.Equal(t, want[i], d.Tier)
			assert.Equal(t, int64(7), d.OwnerID)
			assert.Equal(t, []string{"starb", "coffee", "shop", "main"}, d.Tokens)
			assert.Equal(t, int64(10), *d.Target.CategoryID())
			assert.Equal(t, int64(20), *d.Target.PayeeID())

			if d.Tier.HasAmount() {
				require.NotNil(t, d.Amount)
				assert.True(t, d.Amount.Equal(decimal.RequireFromString("5.5")))
			} else {
				assert.Nil(t, d.Amount)
			}
			if d.Tier.HasCurrency() {
				require.NotNil(t, d.Currency)
				assert.Equal(t, "USD", *d.Currency)
			} else {
				assert.Nil(t, d.Currency)
			}
		}
	})

	t.Run("currency only", func(t *testing.T) {
		drafts, err := gen.Generate(model.Transaction{
			Description: "NETFLIX",
			Currency:    "eur",
			CategoryID:  food,
		})
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, model.TierTokensOnly, drafts[0].Tier)
		assert.Equal(t, model.TierTokensCurrency, drafts[1].Tier)
		assert.Equal(t, "EUR", *drafts[1].Currency)
		assert.Nil(t, drafts[1].Target.PayeeID())
	})

	t.Run("amount only", func(t *testing.T) {
		drafts, err := gen.Generate(model.Transaction{
			Description: "NETFLIX",
			Amount:      decimal.NewFromInt(15),
			PayeeID:     starbucks,
		})
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, model.TierTokensAmount, drafts[1].Tier)
	})

	t.Run("insufficient signal", func(t *testing.T) {
		drafts, err := gen.Generate(model.Transaction{
			Description: "POS 1234",
			Amount:      decimal.NewFromInt(3),
			Currency:    "USD",
			CategoryID:  food,
		})
		require.ErrorIs(t, err, common.ErrInsufficientSignal)
		assert.Empty(t, drafts)
	})

	t.Run("no target", func(t *testing.T) {
		_, err := gen.Generate(model.Transaction{Description: "NETFLIX"})
		require.ErrorIs(t, err, model.ErrEmptyTarget)
	})

	t.Run("drafts do not share token slices", func(t *testing.T) {
		drafts, err := gen.Generate(model.Transaction{
			Description: "NETFLIX COM",
			Currency:    "USD",
			CategoryID:  food,
		})
		require.NoError(t, err)
		drafts[0].Tokens[0] = "changed"
		assert.Equal(t, "netflix", drafts[1].Tokens[0])
	})
}
