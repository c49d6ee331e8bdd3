package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate_FitsUnchanged(t *testing.T) {
	tr := NewTruncator(nil, "")
	got, truncated := tr.Truncate("hello world", 100)
	if truncated {
		t.Error("truncated = true, want false")
	}
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestTruncate_WithinBudget(t *testing.T) {
	tr := NewTruncator(nil, "")
	text := strings.Repeat("abcdefgh ", 500)

	for _, budget := range []int{1, 7, 64, 512, 1000} {
		got, truncated := tr.Truncate(text, budget)
		if n := EstimateTokens(got); n > budget {
			t.Errorf("budget %d: got %d tokens", budget, n)
		}
		if !truncated && budget < EstimateTokens(text) {
			t.Errorf("budget %d: truncated = false, want true", budget)
		}
		if !strings.HasPrefix(text, got) {
			t.Errorf("budget %d: output is not a prefix of the input", budget)
		}
	}
}

func TestTruncate_Idempotent(t *testing.T) {
	tr := NewTruncator(nil, "search_document: ")
	inputs := []string{
		"",
		"short",
		strings.Repeat("Can we meet Thursday 3pm? ", 300),
		strings.Repeat("日本語のテキスト", 200),
		strings.Repeat("émoji 🎉 ", 150),
	}
	for _, in := range inputs {
		for _, budget := range []int{0, 3, 10, 100, 2000} {
			once, _ := tr.Truncate(in, budget)
			twice, again := tr.Truncate(once, budget)
			if once != twice {
				t.Errorf("budget %d: not idempotent: %q vs %q", budget, once, twice)
			}
			if again && once != "" {
				t.Errorf("budget %d: second pass reported truncation", budget)
			}
		}
	}
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	tr := NewTruncator(nil, "")
	text := strings.Repeat("€", 100) // 3 bytes per rune

	for budget := 1; budget < 60; budget++ {
		got, _ := tr.Truncate(text, budget)
		if !utf8.ValidString(got) {
			t.Fatalf("budget %d: invalid UTF-8 output %q", budget, got)
		}
	}
}

func TestTruncate_ReservesPreamble(t *testing.T) {
	preamble := "search_document: " // 17 bytes -> 5 tokens
	tr := NewTruncator(nil, preamble)
	text := strings.Repeat("x", 400)

	got, truncated := tr.Truncate(text, 20)
	if !truncated {
		t.Fatal("truncated = false, want true")
	}
	if total := EstimateTokens(preamble) + EstimateTokens(got); total > 20 {
		t.Errorf("preamble + text = %d tokens, want <= 20", total)
	}
}

func TestTruncate_BudgetSmallerThanPreamble(t *testing.T) {
	tr := NewTruncator(nil, strings.Repeat("p", 40))
	got, truncated := tr.Truncate("body", 5)
	if got != "" || !truncated {
		t.Errorf("got (%q, %v), want (\"\", true)", got, truncated)
	}

	got, truncated = tr.Truncate("", 5)
	if got != "" || truncated {
		t.Errorf("empty input: got (%q, %v), want (\"\", false)", got, truncated)
	}
}

func TestTruncate_Deterministic(t *testing.T) {
	tr := NewTruncator(nil, "")
	text := strings.Repeat("The quarterly review moved to Friday. ", 100)
	a, _ := tr.Truncate(text, 50)
	b, _ := tr.Truncate(text, 50)
	if a != b {
		t.Error("same input and budget produced different output")
	}
}

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func TestTruncate_CustomTokenizer(t *testing.T) {
	tr := NewTruncator(wordTokenizer{}, "")
	got, truncated := tr.Truncate("one two three four five", 3)
	if !truncated {
		t.Fatal("truncated = false, want true")
	}
	if n := (wordTokenizer{}).Count(got); n > 3 {
		t.Errorf("got %d words (%q), want <= 3", n, got)
	}
}
