package tokenizer

import (
	"strings"
	"testing"
)

func TestHeuristicCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"hi", 1},
		{"one two three four", 4},
		{strings.Repeat("a", 40), 10},
	}
	for _, tt := range tests {
		if got := Heuristic().Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestHeuristicTruncate(t *testing.T) {
	c := Heuristic()

	text := strings.Repeat("merhaba ", 100)
	out := c.Truncate(text, 10)
	if len([]rune(out)) != 40 {
		t.Errorf("truncated length = %d runes, want 40", len([]rune(out)))
	}
	if c.Truncate("short", 100) != "short" {
		t.Error("under-budget text should pass through unchanged")
	}
	if c.Truncate("anything", 0) != "" {
		t.Error("zero budget should yield empty string")
	}
}

func TestHeuristicTruncateNeverSplitsRune(t *testing.T) {
	c := Heuristic()
	text := strings.Repeat("ğüşiöç", 50)
	out := c.Truncate(text, 5)
	if !strings.HasPrefix(text, out) {
		t.Error("truncation produced text that is not a prefix of the input")
	}
	for _, r := range out {
		if r == '�' {
			t.Fatal("truncation split a multi-byte rune")
		}
	}
}

func TestNewFallsBackOnUnknownEncoding(t *testing.T) {
	c := New("no-such-encoding")
	if c == nil {
		t.Fatal("New returned nil")
	}
	// Fallback must still produce sane counts.
	if got := c.Count("one two three"); got == 0 {
		t.Error("fallback counter returned 0 for non-empty text")
	}
}
