package textutil

import "unicode/utf8"

// DefaultMaxTokens is the embedding budget used when none is configured.
const DefaultMaxTokens = 8000

// Tokenizer counts tokens the way the embedding model family does.
// Count must be non-decreasing over prefixes of the same string.
type Tokenizer interface {
	Count(text string) int
}

// EstimateTokenizer approximates tokens as 4 bytes each, rounding up.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Truncator bounds text to a token budget before it is embedded.
// Preamble is the fixed text the embedder prepends; its tokens are reserved.
type Truncator struct {
	Tokenizer Tokenizer
	Preamble  string
}

// NewTruncator returns a Truncator using tok, or EstimateTokenizer when tok is nil.
func NewTruncator(tok Tokenizer, preamble string) *Truncator {
	if tok == nil {
		tok = EstimateTokenizer{}
	}
	return &Truncator{Tokenizer: tok, Preamble: preamble}
}

// Truncate cuts text from the end so that it fits in maxTokens minus the
// preamble. The cut always lands on a rune boundary. The second return value
// reports whether anything was removed. Truncate(Truncate(t)) == Truncate(t).
func (t *Truncator) Truncate(text string, maxTokens int) (string, bool) {
	tok := t.Tokenizer
	if tok == nil {
		tok = EstimateTokenizer{}
	}

	budget := maxTokens
	if t.Preamble != "" {
		budget -= tok.Count(t.Preamble)
	}
	if budget <= 0 {
		return "", text != ""
	}
	if tok.Count(text) <= budget {
		return text, false
	}

	// Largest byte prefix whose count fits, found by binary search.
	lo, hi := 0, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tok.Count(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	cut := lo
	for cut > 0 && cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut], true
}
