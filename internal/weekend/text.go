package weekend

import (
	"strings"

	"golang.org/x/net/html"
)

// plainText reduces an HTML fragment to readable text with entities
// decoded and whitespace collapsed.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.WriteString(tokenizer.Token().Data)
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteString(" ")
		}
	}
}

// unescape decodes HTML entities such as &quot; and &#039;.
func unescape(s string) string {
	return html.UnescapeString(s)
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
