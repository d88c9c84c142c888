// Package features computes the named, independently inspectable signals
// behind every candidate score. Each signal lands in 0..1 and the base score
// is their weighted sum, so any ranking decision can be traced back to the
// factors that produced it.
package features

import (
	"math"

	"github.com/pressassoc/dateline/internal/config"
	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
	"github.com/pressassoc/dateline/internal/priors"
)

// Match quality by tier. Fuzzy quality is the edit similarity between the
// folded mention and the candidate's folded canonical name, floored at the
// acceptance threshold that admitted the candidate.
const (
	exactMatchQuality = 1.0
	aliasMatchQuality = 0.9
)

// Extractor scores candidates for one mention at a time. The prior tables
// may be nil, in which case their signals stay neutral (kind) or absent
// (source).
type Extractor struct {
	cfg        config.ScoringConfig
	kinds      *priors.KindCues
	publishers *priors.PublisherPriors
}

// NewExtractor builds an extractor from the scoring weights and the
// editorial prior tables.
func NewExtractor(cfg config.ScoringConfig, kinds *priors.KindCues, publishers *priors.PublisherPriors) *Extractor {
	return &Extractor{cfg: cfg, kinds: kinds, publishers: publishers}
}

// Score fills Features, BaseScore, and an initial FinalScore for every
// candidate of one mention. The population signal is normalized within this
// candidate set, so a mention's candidates must be scored in a single call.
func (e *Extractor) Score(mention model.Mention, publisher string, cands []model.Candidate) {
	folded := normalize.Fold(mention.Text)
	maxPop := maxPopulation(cands)

	for i := range cands {
		c := &cands[i]

		name := e.nameMatchQuality(folded, c)
		pop := e.populationSignal(c.Place.Population, maxPop)
		kind := e.kinds.Prior(mention.Context, c.Place.Kind)
		source := e.publishers.Affinity(publisher, c.Place.CountryCode)

		c.Features = map[string]float64{
			model.FeatureNameMatch:   name,
			model.FeaturePopulation:  pop,
			model.FeatureKindPrior:   kind,
			model.FeatureSourcePrior: source,
		}
		c.BaseScore = e.cfg.NameMatchWeight*name +
			e.cfg.PopulationWeight*pop +
			e.cfg.KindPriorWeight*kind +
			e.cfg.SourcePriorWeight*source
		c.FinalScore = c.BaseScore
	}
}

// Contributions returns the weighted share each signal added to the
// candidate's base score, unordered. Explanation assembly sorts them.
func (e *Extractor) Contributions(c *model.Candidate) []model.Factor {
	return []model.Factor{
		{Name: model.FeatureNameMatch, Contribution: e.cfg.NameMatchWeight * c.Features[model.FeatureNameMatch]},
		{Name: model.FeaturePopulation, Contribution: e.cfg.PopulationWeight * c.Features[model.FeaturePopulation]},
		{Name: model.FeatureKindPrior, Contribution: e.cfg.KindPriorWeight * c.Features[model.FeatureKindPrior]},
		{Name: model.FeatureSourcePrior, Contribution: e.cfg.SourcePriorWeight * c.Features[model.FeatureSourcePrior]},
	}
}

func (e *Extractor) nameMatchQuality(foldedMention string, c *model.Candidate) float64 {
	switch c.Tier {
	case model.TierExact:
		return exactMatchQuality
	case model.TierAlias:
		return aliasMatchQuality
	default:
		q := normalize.EditSimilarity(foldedMention, normalize.Fold(c.Place.Name))
		if q < e.cfg.FuzzyThreshold {
			q = e.cfg.FuzzyThreshold
		}
		return q
	}
}

// populationSignal log-scales a place's population against the largest
// population in the same candidate set. Places with no recorded population
// get the configured low-but-nonzero default; a recorded zero scores zero.
func (e *Extractor) populationSignal(pop *int64, maxPop int64) float64 {
	if pop == nil {
		return e.cfg.NilPopulationSignal
	}
	if *pop <= 0 || maxPop <= 0 {
		return 0
	}
	return math.Log1p(float64(*pop)) / math.Log1p(float64(maxPop))
}

func maxPopulation(cands []model.Candidate) int64 {
	var max int64
	for i := range cands {
		if p := cands[i].Place.PopulationOrZero(); p > max {
			max = p
		}
	}
	return max
}
