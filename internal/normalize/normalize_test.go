package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold_Basic(t *testing.T) {
	assert.Equal(t, "paris", Fold("Paris"))
	assert.Equal(t, "new york", Fold("  New   York "))
}

func TestFold_Diacritics(t *testing.T) {
	assert.Equal(t, "sao paulo", Fold("São Paulo"))
	assert.Equal(t, "zurich", Fold("Zürich"))
	assert.Equal(t, "besancon", Fold("Besançon"))
	assert.Equal(t, "reykjavik", Fold("Reykjavík"))
}

func TestFold_Empty(t *testing.T) {
	assert.Equal(t, "", Fold(""))
	assert.Equal(t, "", Fold("   "))
}

func TestTrigrams_Padding(t *testing.T) {
	set := Trigrams("rio")
	// "  rio " yields "  r", " ri", "rio", "io ".
	assert.Len(t, set, 4)
	_, ok := set["rio"]
	assert.True(t, ok)
	_, ok = set["  r"]
	assert.True(t, ok)
}

func TestTrigrams_MultiWord(t *testing.T) {
	set := Trigrams("la paz")
	// Each word is padded independently, as pg_trgm does.
	_, ok := set["  l"]
	assert.True(t, ok)
	_, ok = set["  p"]
	assert.True(t, ok)
}

func TestTrigramSimilarity_Identical(t *testing.T) {
	assert.InDelta(t, 1.0, TrigramSimilarity("london", "london"), 1e-9)
}

func TestTrigramSimilarity_Disjoint(t *testing.T) {
	assert.Equal(t, 0.0, TrigramSimilarity("tokyo", "lima"))
}

func TestTrigramSimilarity_Close(t *testing.T) {
	s := TrigramSimilarity("melbourne", "melborne")
	assert.Greater(t, s, 0.5)
	assert.Less(t, s, 1.0)
}

func TestTrigramSimilarity_Empty(t *testing.T) {
	assert.Equal(t, 0.0, TrigramSimilarity("", "paris"))
	assert.Equal(t, 0.0, TrigramSimilarity("paris", ""))
}

func TestEditSimilarity_Bounds(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("victoria", "victoria"))

	s := EditSimilarity("victoria", "victorea")
	assert.Greater(t, s, 0.8)
	assert.Less(t, s, 1.0)

	assert.Less(t, EditSimilarity("a", "xyzw"), 0.3)
}
