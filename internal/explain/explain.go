// Package explain finalizes one mention's ranked candidates into a result:
// confidence from the winner's share of score mass, a factor-by-factor
// explanation, and a capped list of alternates.
package explain

import (
	"math"
	"sort"

	"github.com/pressassoc/dateline/internal/features"
	"github.com/pressassoc/dateline/internal/model"
)

// Builder turns ranked candidate lists into terminal results.
type Builder struct {
	extractor     *features.Extractor
	cutoff        float64
	maxAlternates int
}

// NewBuilder wires the extractor whose weights produced the base scores, the
// confidence cutoff below which a mention stays unresolved, and the
// alternates cap.
func NewBuilder(extractor *features.Extractor, confidenceCutoff float64, maxAlternates int) *Builder {
	return &Builder{
		extractor:     extractor,
		cutoff:        confidenceCutoff,
		maxAlternates: maxAlternates,
	}
}

// Build produces the result for one mention whose candidates are already
// ranked by final score. An empty candidate list is NoCandidates; a winner
// below the confidence cutoff is Unresolved and keeps its alternates.
func (b *Builder) Build(mention model.Mention, cands []model.Candidate, degraded bool) model.Result {
	if len(cands) == 0 {
		return model.Result{
			Mention:  mention,
			Status:   model.StatusNoCandidates,
			Degraded: degraded,
		}
	}

	top := &cands[0]
	confidence := Confidence(cands)

	res := model.Result{
		Mention:     mention,
		Confidence:  confidence,
		Explanation: b.explanation(top),
		Alternates:  alternates(cands, b.maxAlternates),
		Degraded:    degraded,
	}
	if confidence >= b.cutoff {
		res.Status = model.StatusResolved
		id := top.Place.ID
		res.PlaceID = &id
	} else {
		res.Status = model.StatusUnresolved
	}
	return res
}

// Confidence is the top candidate's final score over the sum of all final
// scores for the mention. One dominant candidate scores near 1; several
// near-ties dilute each other even when their raw scores are high.
func Confidence(cands []model.Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	var sum float64
	for i := range cands {
		sum += cands[i].FinalScore
	}
	if sum <= 0 {
		return 0
	}
	return cands[0].FinalScore / sum
}

// explanation lists the winner's weighted factor contributions plus the
// coherence bonus when one was applied, ordered by contribution magnitude
// descending with name as the tie-break.
func (b *Builder) explanation(top *model.Candidate) []model.Factor {
	factors := b.extractor.Contributions(top)
	if top.CoherenceBonus != 0 {
		factors = append(factors, model.Factor{
			Name:         model.FactorCoherence,
			Contribution: top.CoherenceBonus,
		})
	}

	sort.Slice(factors, func(i, j int) bool {
		mi, mj := math.Abs(factors[i].Contribution), math.Abs(factors[j].Contribution)
		if mi != mj {
			return mi > mj
		}
		return factors[i].Name < factors[j].Name
	})
	return factors
}

func alternates(cands []model.Candidate, max int) []model.AltCandidate {
	rest := cands[1:]
	if len(rest) > max {
		rest = rest[:max]
	}
	if len(rest) == 0 {
		return nil
	}

	alts := make([]model.AltCandidate, len(rest))
	for i := range rest {
		alts[i] = model.AltCandidate{
			PlaceID: rest[i].Place.ID,
			Name:    rest[i].Place.Name,
			Kind:    rest[i].Place.Kind,
			Score:   rest[i].FinalScore,
		}
	}
	return alts
}
