package fields

import (
	"fmt"
	"strings"
)

// Jurisdiction qualifiers appended after disambiguation.
const (
	QualifierCABA      = ", CABA"
	QualifierProvincia = ", Provincia de Buenos Aires"
)

// ambiguousStreets exist both in CABA and in the surrounding province.
var ambiguousStreets = []string{
	"rivadavia", "san martin", "belgrano", "mitre", "sarmiento", "alvear", "pueyrredon", "libertador",
}

var jurisdictionHints = []string{
	"caba", "capital", "capital federal", "ciudad autonoma", "provincia", "pba", "prov", "partido",
	"gba", "conurbano",
}

// DetectAmbiguousLocation returns the street name when address sits on a
// street present in both jurisdictions and carries no qualifier.
func DetectAmbiguousLocation(address string) (string, bool) {
	n := Normalize(address)
	for _, hint := range jurisdictionHints {
		if ContainsWord(n, hint) {
			return "", false
		}
	}
	for _, street := range ambiguousStreets {
		if ContainsWord(n, street) {
			return street, true
		}
	}
	return "", false
}

// LocationQuestion renders the disambiguation prompt for street.
func LocationQuestion(street string) string {
	return fmt.Sprintf(MsgLocationQuestion, titleCase(street))
}

// ResolveLocationChoice maps the client's answer to a qualifier.
// Accepts "1"/"2" or the jurisdiction name.
func ResolveLocationChoice(text string) (string, bool) {
	n := Normalize(text)
	switch {
	case n == "1" || n == "caba" || strings.HasPrefix(n, "capital") || strings.Contains(n, "ciudad"):
		return QualifierCABA, true
	case n == "2" || strings.HasPrefix(n, "provincia") || n == "pba" || n == "prov":
		return QualifierProvincia, true
	}
	return "", false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
