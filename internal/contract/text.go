package contract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining diacritics ("Não" → "nao").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// NormalizeSpace trims s and collapses every whitespace run to one space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldEqual compares two strings ignoring case, diacritics and spacing.
func FoldEqual(a, b string) bool {
	return NormalizeSpace(Fold(a)) == NormalizeSpace(Fold(b))
}
