package pattern

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/indiepalbien/app-finzas/internal/model"
)

// DefaultMinTokenLength is the shortest token kept by default, in runes.
const DefaultMinTokenLength = 2

// DefaultStopwords is generic financial and address boilerplate that carries
// no merchant signal.
var DefaultStopwords = []string{
	"paypal", "bank", "transaction", "payment", "purchase", "pos", "debit",
	"card", "credit", "visa", "mastercard", "compra", "pago", "ref",
	"www", "com", "inc", "llc",
	"st", "ave", "rd",
}

// Tokens is a deduplicated token list in first-seen order.
type Tokens []string

// Key returns the order-independent form of the tokens.
func (t Tokens) Key() string {
	return model.TokenKey(t)
}

// Len returns the number of tokens.
func (t Tokens) Len() int {
	return len(t)
}

// Set returns the tokens as a set.
func (t Tokens) Set() map[string]struct{} {
	set := make(map[string]struct{}, len(t))
	for _, tok := range t {
		set[tok] = struct{}{}
	}
	return set
}

// Contains reports whether tok is one of the tokens.
func (t Tokens) Contains(tok string) bool {
	for _, v := range t {
		if v == tok {
			return true
		}
	}
	return false
}

// Equal compares two token lists as sets.
func (t Tokens) Equal(o Tokens) bool {
	return t.Key() == o.Key()
}

// Sorted returns a sorted copy.
func (t Tokens) Sorted() []string {
	out := make([]string, len(t))
	copy(out, t)
	sort.Strings(out)
	return out
}

// NormalizerOptions configures a Normalizer.
type NormalizerOptions struct {
	Stopwords        []string
	MinTokenLength   int
	ReplaceStopwords bool // Use Stopwords instead of extending DefaultStopwords
}

// Normalizer implements Tokenizer. It holds no mutable state after construction.
type Normalizer struct {
	stop   map[string]struct{}
	minLen int
}

// NewNormalizer builds a normalizer from opts.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	minLen := opts.MinTokenLength
	if minLen <= 0 {
		minLen = DefaultMinTokenLength
	}

	words := opts.Stopwords
	if !opts.ReplaceStopwords {
		words = append(append([]string{}, DefaultStopwords...), opts.Stopwords...)
	}

	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(fold(w)))
		if w != "" {
			stop[w] = struct{}{}
		}
	}

	return &Normalizer{stop: stop, minLen: minLen}
}

// NewDefaultNormalizer returns a normalizer with the default stoplist.
func NewDefaultNormalizer() *Normalizer {
	return NewNormalizer(NormalizerOptions{})
}

// Normalize lowercases, folds accents, splits on anything that is not a letter
// or digit and filters noise tokens.
func (n *Normalizer) Normalize(description string) Tokens {
	folded := strings.ToLower(fold(description))

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(Tokens, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if !n.keep(f) {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}

	return tokens
}

func (n *Normalizer) keep(tok string) bool {
	if len([]rune(tok)) < n.minLen {
		return false
	}
	if isDigits(tok) {
		return false
	}
	_, stop := n.stop[tok]
	return !stop
}

// isDigits reports whether tok is made only of digits: dates, store numbers,
// authorization codes.
func isDigits(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// fold strips combining marks so that "Café" and "Cafe" produce the same token.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
