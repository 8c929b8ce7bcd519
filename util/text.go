package util

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalizeWhitespace trims and collapses runs of whitespace into one space.
func CanonicalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup returns the visible text of an HTML fragment.
func StripMarkup(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return CanonicalizeWhitespace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return CanonicalizeWhitespace(html)
	}
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li, blockquote, h1, h2, h3, h4, h5, h6").AppendHtml(" ")
	return CanonicalizeWhitespace(doc.Text())
}

// FoldForSearch removes diacritics and case so that "Café" and "cafe" compare equal.
func FoldForSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	// a Caser keeps state, so one per call
	return cases.Fold().String(stripped)
}

// ContentToSearch is the stored search form of a note: markup stripped, diacritics
// removed, case folded.
func ContentToSearch(parts ...string) string {
	var texts []string
	for _, p := range parts {
		if text := StripMarkup(p); text != "" {
			texts = append(texts, text)
		}
	}
	return FoldForSearch(strings.Join(texts, " "))
}
