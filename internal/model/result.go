package model

// MatchTier records how a candidate's name matched the mention.
type MatchTier int

// Match tiers, strongest first. Lower values rank ahead.
const (
	TierExact MatchTier = iota
	TierAlias
	TierFuzzy
)

func (t MatchTier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierAlias:
		return "alias"
	case TierFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// Feature names emitted by the extractor. Kept as constants so explanations
// and tests reference one vocabulary.
const (
	FeatureNameMatch   = "name_match"
	FeaturePopulation  = "population"
	FeatureKindPrior   = "kind_prior"
	FeatureSourcePrior = "source_prior"
	FactorCoherence    = "coherence"
)

// Candidate is one possible canonical place a mention may refer to, with its
// scored signals. Candidates are generated fresh per request and never
// persisted.
type Candidate struct {
	Place *CanonicalPlace `json:"place"`
	Tier  MatchTier       `json:"tier"`

	// Similarity is the name similarity that admitted a fuzzy candidate
	// (1.0 for exact and alias tiers).
	Similarity float64 `json:"similarity"`

	// Features holds the named signal values in [0,1].
	Features map[string]float64 `json:"features,omitempty"`

	BaseScore      float64 `json:"base_score"`
	CoherenceBonus float64 `json:"coherence_bonus"`
	FinalScore     float64 `json:"final_score"`
}

// ResultStatus is the terminal outcome for one mention.
type ResultStatus string

// Terminal statuses. NoCandidates (zero lexical evidence) is distinct from
// Unresolved (ambiguous evidence below the confidence cutoff). Rejected
// marks malformed input mentions; the rest of the batch proceeds.
const (
	StatusResolved     ResultStatus = "resolved"
	StatusUnresolved   ResultStatus = "unresolved"
	StatusNoCandidates ResultStatus = "no_candidates"
	StatusRejected     ResultStatus = "rejected"
)

// Factor is one named contribution to a candidate's final score, surfaced
// in result explanations.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// AltCandidate summarizes a non-winning candidate for result alternates.
type AltCandidate struct {
	PlaceID PlaceID   `json:"place_id"`
	Name    string    `json:"name"`
	Kind    PlaceKind `json:"kind"`
	Score   float64   `json:"score"`
}

// Result is the engine's answer for a single mention.
type Result struct {
	Mention Mention      `json:"mention"`
	Status  ResultStatus `json:"status"`

	// PlaceID is set only when Status is resolved.
	PlaceID *PlaceID `json:"place_id,omitempty"`

	// Confidence is the winning candidate's final score normalized against
	// the sum over all candidates (0..1). Zero when no candidates exist.
	Confidence float64 `json:"confidence"`

	// Explanation lists the named factors behind the decision, ordered by
	// contribution magnitude descending.
	Explanation []Factor `json:"explanation,omitempty"`

	// Alternates are the non-winning candidates, score-sorted and capped.
	Alternates []AltCandidate `json:"alternates,omitempty"`

	// Degraded is true when the article's soft deadline expired before the
	// coherence pass reached this mention, so the result reflects the
	// single-mention ranking only.
	Degraded bool `json:"degraded,omitempty"`
}

// MentionState tracks a mention through the joint-resolution pass.
type MentionState int

// Resolution states, in pipeline order.
const (
	StatePending MentionState = iota
	StateCandidatesGenerated
	StateScoredLocally
	StateCoherenceAdjusted
	StateFinal
)

func (s MentionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCandidatesGenerated:
		return "candidates_generated"
	case StateScoredLocally:
		return "scored_locally"
	case StateCoherenceAdjusted:
		return "coherence_adjusted"
	case StateFinal:
		return "final"
	default:
		return "unknown"
	}
}
