package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	leftoverTags = regexp.MustCompile(`<[^>]*>`)
	whitespace   = regexp.MustCompile(`\s+`)
	boilerplate  = regexp.MustCompile(`(?i)(состав\s+продукта\s*:|состав\s*:|ингредиенты\s*:|composition\s*:|ingredients\s*:)`)
)

// CleanText strips HTML markup and collapses runs of whitespace. Passes
// repeat until the text is stable; each pass shrinks the text or leaves it
// unchanged, so nested entity encodings are fully unwrapped.
func CleanText(s string) string {
	for {
		cleaned := cleanOnce(s)
		if cleaned == s {
			break
		}
		s = cleaned
	}
	return s
}

func cleanOnce(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
		// entities may decode into tag-like text; drop it so a second pass is a no-op
		s = leftoverTags.ReplaceAllString(s, " ")
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// CleanComposition is CleanText followed by removal of boilerplate labels
// such as "Состав:" or "Ingredients:".
func CleanComposition(s string) string {
	s = CleanText(s)
	for {
		stripped := boilerplate.ReplaceAllString(s, " ")
		stripped = strings.TrimSpace(whitespace.ReplaceAllString(stripped, " "))
		stripped = strings.TrimLeft(stripped, " :;,.-")
		if stripped == s {
			break
		}
		s = stripped
	}
	return s
}
