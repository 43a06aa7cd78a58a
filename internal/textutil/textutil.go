// Package textutil holds the text normalisation shared by decision lookup,
// intent classification and job matching.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold strips diacritics and lowercases s.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return strings.ToLower(result)
}

// Normalize folds s, trims it and collapses inner whitespace runs.
func Normalize(s string) string {
	return strings.Join(strings.Fields(Fold(s)), " ")
}

// Tokens splits the folded text on anything that is not a letter or a digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
