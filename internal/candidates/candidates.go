// Package candidates turns one mention into its ranked list of possible
// places. Generation is deterministic: the same mention against the same
// snapshot always yields the same candidates in the same order, regardless
// of storage iteration order.
package candidates

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
)

// DefaultMaxCandidates caps how many candidates one mention may carry into
// scoring.
const DefaultMaxCandidates = 20

// Generator produces candidate lists from a gazetteer store.
type Generator struct {
	store gazetteer.Store
	max   int
}

// NewGenerator builds a generator over the given store. A non-positive cap
// falls back to DefaultMaxCandidates.
func NewGenerator(store gazetteer.Store, maxCandidates int) *Generator {
	if maxCandidates < 1 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Generator{store: store, max: maxCandidates}
}

// Generate folds the mention text, looks it up, and returns candidates in
// generation order: match tier first, population descending with unknown
// last, place ID ascending. Zero matches yield an empty list, not an error.
func (g *Generator) Generate(ctx context.Context, mention model.Mention) ([]model.Candidate, error) {
	folded := normalize.Fold(mention.Text)
	if folded == "" {
		return nil, nil
	}

	matches, err := g.store.LookupByName(ctx, folded)
	if err != nil {
		return nil, eris.Wrapf(err, "candidates: lookup %q", folded)
	}

	cands := make([]model.Candidate, 0, len(matches))
	for _, m := range matches {
		place := m.Place
		cands = append(cands, model.Candidate{
			Place:      &place,
			Tier:       m.Tier,
			Similarity: m.Similarity,
		})
	}

	SortGenerated(cands)
	if len(cands) > g.max {
		cands = cands[:g.max]
	}
	return cands, nil
}

// SortGenerated applies the generation order used before any scoring.
func SortGenerated(cands []model.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		return lessGenerated(&cands[i], &cands[j])
	})
}

// SortByScore re-ranks candidates after scoring: final score descending,
// generation order as the tie-break, so ranking stays a total order.
func SortByScore(cands []model.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FinalScore != cands[j].FinalScore {
			return cands[i].FinalScore > cands[j].FinalScore
		}
		return lessGenerated(&cands[i], &cands[j])
	})
}

func lessGenerated(a, b *model.Candidate) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	ap, bp := a.Place.PopulationOrZero(), b.Place.PopulationOrZero()
	if ap != bp {
		return ap > bp
	}
	return a.Place.ID < b.Place.ID
}
