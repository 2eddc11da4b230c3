package agent

import (
	"regexp"
	"strings"
)

// NormalizeReply cleans assistant text for delivery. Models leak
// artifacts into their final text: thinking tags, tool-call XML emitted
// as prose, duplicated paragraphs. All of that is stripped before the
// text is persisted or delivered. Empty output means the turn has
// nothing user-facing to say.
func NormalizeReply(content string) string {
	if content == "" {
		return ""
	}
	content = stripToolCallXML(content)
	content = stripThinkingTags(content)
	content = collapseDuplicateBlocks(content)
	return strings.TrimSpace(content)
}

// toolCallSpanPatterns remove tool-call markup that some models emit
// as plain text instead of structured calls, payload included.
var toolCallSpanPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<function_calls?[^>]*>.*?</function_calls?>`),
	regexp.MustCompile(`(?is)<tool_call[^>]*>.*?</tool_call>`),
	regexp.MustCompile(`(?is)<tool_use[^>]*>.*?</tool_use>`),
	regexp.MustCompile(`(?is)<invoke[^>]*>.*?</invoke>`),
	regexp.MustCompile(`(?is)<parameter[^>]*>.*?</parameter>`),
}

// toolCallTagPattern sweeps up orphan tags left by truncated markup.
var toolCallTagPattern = regexp.MustCompile(
	`(?is)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var toolCallXMLIndicators = []string{
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<invoke",
	"<parameter name=",
	"</parameter",
}

func stripToolCallXML(content string) string {
	lower := strings.ToLower(content)
	found := false
	for _, ind := range toolCallXMLIndicators {
		if strings.Contains(lower, ind) {
			found = true
			break
		}
	}
	if !found {
		return content
	}
	for _, pat := range toolCallSpanPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(toolCallTagPattern.ReplaceAllString(content, ""))
}

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
	// Unclosed tag swallows the rest; better a short reply than leaked
	// chain-of-thought.
	regexp.MustCompile(`(?is)<think(?:ing)?>.*$`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// collapseDuplicateBlocks drops paragraphs that repeat the previous one
// verbatim, a common degeneration under long contexts.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}

// skipMarkers are the tokens a background agent emits to suppress
// delivery on a notify_skip trigger.
var skipMarkers = []string{"[SKIP]", "[NO_NOTIFY]", "SKIP"}

// IsSkipMarker reports whether text carries a skip marker at the
// response boundary, case-insensitively. "SKIPPED the check" does not
// match; "[SKIP] nothing to report" does.
func IsSkipMarker(text string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}
	for _, marker := range skipMarkers {
		if trimmed == marker {
			return true
		}
		if strings.HasPrefix(trimmed, marker) {
			rest := trimmed[len(marker):]
			if strings.HasSuffix(marker, "]") || !isWordChar(rune(rest[0])) {
				return true
			}
		}
		if strings.HasSuffix(trimmed, marker) {
			before := trimmed[:len(trimmed)-len(marker)]
			if strings.HasPrefix(marker, "[") || !isWordChar(rune(before[len(before)-1])) {
				return true
			}
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
