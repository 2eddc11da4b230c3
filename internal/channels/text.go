package channels

import (
	"strings"
	"unicode/utf8"
)

// ApplyBotPrefix marks text as assistant-authored for transports where
// the assistant posts from the owner's own account. Already-prefixed
// text passes through unchanged.
func ApplyBotPrefix(prefix, text string) string {
	if prefix == "" || strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + text
}

// IsSelfEcho reports whether inbound text is the assistant's own
// prefixed output coming back on a shared-identity transport. Callers
// gate on the transport's "from me" signal first; this only inspects
// the text.
func IsSelfEcho(prefix, text string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(text), strings.TrimSpace(prefix))
}

// SplitMessage splits text into chunks of at most limit runes,
// preferring paragraph boundaries, then line boundaries, then hard rune
// cuts. Rune-based so multibyte text never splits mid-character.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	cur := ""
	flush := func() {
		if cur != "" {
			chunks = append(chunks, cur)
			cur = ""
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		switch {
		case utf8.RuneCountInString(para) > limit:
			flush()
			chunks = append(chunks, splitLines(para, limit)...)
		case cur == "":
			cur = para
		case utf8.RuneCountInString(cur)+2+utf8.RuneCountInString(para) <= limit:
			cur += "\n\n" + para
		default:
			flush()
			cur = para
		}
	}
	flush()

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func splitLines(para string, limit int) []string {
	var out []string
	cur := ""
	flush := func() {
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
	}

	for _, line := range strings.Split(para, "\n") {
		switch {
		case utf8.RuneCountInString(line) > limit:
			flush()
			out = append(out, splitRunes(line, limit)...)
		case cur == "":
			cur = line
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(line) <= limit:
			cur += "\n" + line
		default:
			flush()
			cur = line
		}
	}
	flush()
	return out
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// Truncate shortens a string to maxLen runes for log previews.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
