package pattern

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedNormalizer memoizes a Tokenizer. Normalization is pure, so a cached
// result is always identical to a fresh one.
type CachedNormalizer struct {
	next  Tokenizer
	cache *ristretto.Cache[string, Tokens]
}

// NewCachedNormalizer wraps next with a cache holding up to size descriptions.
// A size of zero or less returns next unwrapped.
func NewCachedNormalizer(next Tokenizer, size int64) (Tokenizer, error) {
	if size <= 0 {
		return next, nil
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, Tokens]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	return &CachedNormalizer{next: next, cache: cache}, nil
}

// Normalize returns the cached tokens for description, computing them on a miss.
func (c *CachedNormalizer) Normalize(description string) Tokens {
	if tokens, ok := c.cache.Get(description); ok {
		return clone(tokens)
	}

	tokens := c.next.Normalize(description)
	c.cache.Set(description, clone(tokens), 1)

	return tokens
}

// Wait blocks until pending cache writes are visible.
func (c *CachedNormalizer) Wait() {
	c.cache.Wait()
}

// Close releases the cache goroutines.
func (c *CachedNormalizer) Close() {
	c.cache.Close()
}

func clone(t Tokens) Tokens {
	out := make(Tokens, len(t))
	copy(out, t)
	return out
}
