package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTokenizer struct {
	next  Tokenizer
	calls int
}

func (c *countingTokenizer) Normalize(description string) Tokens {
	c.calls++
	return c.next.Normalize(description)
}

func TestCachedNormalizer(t *testing.T) {
	counter := &countingTokenizer{next: NewDefaultNormalizer()}

	tok, err := NewCachedNormalizer(counter, 100)
	require.NoError(t, err)

	cached, ok := tok.(*CachedNormalizer)
	require.True(t, ok)
	defer cached.Close()

	first := cached.Normalize("STARB COFFEE SHOP")
	cached.Wait()
	second := cached.Normalize("STARB COFFEE SHOP")

	assert.Equal(t, Tokens{"starb", "coffee", "shop"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)

	// Callers get their own copy.
	second[0] = "changed"
	assert.Equal(t, Tokens{"starb", "coffee", "shop"}, cached.Normalize("STARB COFFEE SHOP"))
}

func TestNewCachedNormalizer_Disabled(t *testing.T) {
	base := NewDefaultNormalizer()

	tok, err := NewCachedNormalizer(base, 0)
	require.NoError(t, err)
	assert.Same(t, base, tok)
}
