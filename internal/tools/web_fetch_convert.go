package tools

import (
	"regexp"
	"strings"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headingRe     = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	blockCloseRe  = regexp.MustCompile(`(?i)</(p|div|tr|li)>`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	anyTagRe      = regexp.MustCompile(`<[^>]+>`)
	multiNewline  = regexp.MustCompile(`\n{3,}`)
	multiSpace    = regexp.MustCompile(` {2,}`)
)

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// htmlToText converts HTML to readable plain text without an external
// parser. Good enough for article bodies; not a general HTML renderer.
func htmlToText(html string) string {
	text := scriptBlockRe.ReplaceAllString(html, "")
	text = styleBlockRe.ReplaceAllString(text, "")
	text = headingRe.ReplaceAllString(text, "\n\n$1\n")
	text = blockCloseRe.ReplaceAllString(text, "\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = decodeHTMLEntities(text)
	text = multiNewline.ReplaceAllString(text, "\n\n")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func decodeHTMLEntities(s string) string {
	return htmlEntities.Replace(s)
}
