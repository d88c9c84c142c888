// Package normalize folds mention text into the canonical lookup form used
// by the gazetteer name indexes and provides the string-similarity measures
// behind the fuzzy match tier.
package normalize

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer decomposes to NFD, strips combining marks, and recomposes,
// so "São Paulo" and "Sao Paulo" fold to the same key.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold produces the normalized lookup form of a place name: diacritics
// stripped, lowercased, inner whitespace collapsed to single spaces, outer
// whitespace trimmed. Folding is deterministic and locale-independent.
func Fold(text string) string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		// Transform only fails on malformed UTF-8; fall back to the raw
		// text so a bad byte never aborts a whole batch.
		folded = text
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Trigrams returns the padded trigram set of an already-folded string,
// matching PostgreSQL pg_trgm semantics: two leading spaces and one trailing
// space per word.
func Trigrams(folded string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(folded) {
		padded := "  " + word + " "
		r := []rune(padded)
		for i := 0; i+3 <= len(r); i++ {
			set[string(r[i:i+3])] = struct{}{}
		}
	}
	return set
}

// TrigramSimilarity computes pg_trgm-style similarity between two folded
// strings: shared trigrams over the union. Returns 0 when either side has
// no trigrams.
func TrigramSimilarity(a, b string) float64 {
	ta := Trigrams(a)
	tb := Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// EditSimilarity returns 1 - levenshtein(a,b)/max(len), i.e. similarity
// linear in normalized edit distance. Inputs should already be folded.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, levenshtein.NewParams())
}
