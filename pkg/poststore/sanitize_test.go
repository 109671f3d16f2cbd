package poststore

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHTML(t *testing.T) {
	require.Equal(t, "", SanitizeHTML(""))
	require.Equal(t, `<p>Hello <strong>world</strong></p>`, SanitizeHTML(`<p>Hello <strong>world</strong></p>`))
	require.Equal(t, `<p>safe</p>`, SanitizeHTML(`<p onmouseover="steal()">safe</p><script>steal()</script>`))
	require.NotContains(t, SanitizeHTML(`<a href="javascript:alert(1)">x</a>`), "javascript:")
}

func TestPlainText(t *testing.T) {
	require.Equal(t, "Fish & chips are great", PlainText("<h1>Fish &amp; chips</h1><p>are   <em>great</em></p>"))
	require.Equal(t, "", PlainText(""))

	d := Draft{Content: Content{HTML: "<p>one two</p><p>three</p>"}}
	require.Equal(t, 3, d.WordCount())
}

func TestNormalizeTitle(t *testing.T) {
	// "e" + combining acute composes to a single rune
	require.Equal(t, "Caf\u00e9", NormalizeTitle("  Cafe\u0301 "))
	require.Equal(t, NormalizeTitle("Caf\u00e9"), NormalizeTitle("Cafe\u0301"))
}

func TestPostJSON_Golden(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	post := Post{
		ID:    "0f8fad5b-d9cb-469f-a165-70867728950e",
		Title: "Hello",
		Content: Content{
			Lexical: map[string]any{
				"root": map[string]any{
					"type":     "root",
					"children": []any{map[string]any{"type": "paragraph", "text": "Hello"}},
				},
			},
			HTML: "<p>Hello</p>",
		},
		Status:    StatusDraft,
		AuthorID:  "alice",
		CreatedAt: created,
		UpdatedAt: created.Add(2 * time.Second),
	}

	g := goldie.New(t)
	g.AssertJson(t, "post", post)
}
