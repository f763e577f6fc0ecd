package fields

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text, removes diacritics, strips sentence
// punctuation and collapses whitespace.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', '¡', '¿', ';', ':':
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// ContainsWord reports whether normalized text contains phrase on word boundaries.
func ContainsWord(text, phrase string) bool {
	t := " " + Normalize(text) + " "
	p := " " + Normalize(phrase) + " "
	return strings.Contains(t, p)
}
