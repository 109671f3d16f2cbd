package poststore

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)
)

// SanitizeHTML strips scripts, event handlers and other unsafe markup from
// editor-rendered HTML.
func SanitizeHTML(s string) string {
	if s == "" {
		return ""
	}
	return ugcPolicy.Sanitize(s)
}

// PlainText returns the visible text of an HTML fragment with whitespace
// collapsed.
func PlainText(s string) string {
	text := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeTitle trims a title and converts it to NFC so visually equal
// titles compare equal.
func NormalizeTitle(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// WordCount counts the words of the draft's visible text.
func (d Draft) WordCount() int {
	return len(strings.Fields(PlainText(d.Content.HTML)))
}
