// Package tokenizer provides the token counter used for session budgets and
// context-layer truncation. The default counter is tiktoken cl100k_base;
// when the encoding cannot be initialized (offline BPE fetch, unknown name)
// it degrades to a character heuristic so budget enforcement keeps working.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used when config does not override it.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens and truncates text to a token budget.
type Counter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

var (
	encMu sync.Mutex
	encs  = map[string]*tiktoken.Tiktoken{}
)

// New returns a Counter for the named encoding. The name "heuristic"
// (or a failed encoding init) yields the character-based fallback.
func New(name string) Counter {
	if name == "" {
		name = DefaultEncoding
	}
	if name == "heuristic" {
		return heuristic{}
	}
	if enc := lookupEncoding(name); enc != nil {
		return &tiktokenCounter{enc: enc}
	}
	return heuristic{}
}

func lookupEncoding(name string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encs[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		encs[name] = nil
		return nil
	}
	encs[name] = enc
	return enc
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	out := c.enc.Decode(tokens[:maxTokens])
	// A BPE boundary can fall inside a multi-byte character; drop the
	// partial tail so the cut never splits a rune.
	for len(out) > 0 && !utf8.ValidString(out) {
		out = out[:len(out)-1]
	}
	return out
}

// heuristic estimates max(runes/4, words); truncation is rune-based so a
// multi-byte character is never split.
type heuristic struct{}

func (heuristic) Count(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	n := runes / 4
	if n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}

func (heuristic) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit])
}

// Heuristic returns the fallback counter directly; tests and tight loops
// use it to avoid the BPE cost.
func Heuristic() Counter { return heuristic{} }
