// Package coherence rewards candidates that agree spatially with the places
// already resolved in the same article. Agreement is containment in either
// direction, or failing that, proximity within a configured radius.
package coherence

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pressassoc/dateline/internal/config"
	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
)

// Scorer computes coherence bonuses against resolved anchor places.
type Scorer struct {
	store gazetteer.Store
	cfg   config.CoherenceConfig
}

// NewScorer builds a scorer over the given store.
func NewScorer(store gazetteer.Store, cfg config.CoherenceConfig) *Scorer {
	return &Scorer{store: store, cfg: cfg}
}

// Adjust sets CoherenceBonus and FinalScore on every candidate of one
// mention, scoring each against the anchors resolved so far. Callers re-rank
// afterwards; Adjust never reorders.
func (s *Scorer) Adjust(ctx context.Context, cands []model.Candidate, anchors []model.PlaceID) error {
	for i := range cands {
		bonus, err := s.Bonus(ctx, cands[i].Place.ID, anchors)
		if err != nil {
			return err
		}
		cands[i].CoherenceBonus = bonus
		cands[i].FinalScore = cands[i].BaseScore + bonus
	}
	return nil
}

// Bonus accumulates one candidate's agreement with each anchor, capped at
// the configured maximum. Anchors contribute independently: containment
// earns the containment bonus, otherwise proximity within the radius earns
// the proximity bonus.
func (s *Scorer) Bonus(ctx context.Context, candidate model.PlaceID, anchors []model.PlaceID) (float64, error) {
	var total float64
	for _, anchor := range anchors {
		b, err := s.anchorBonus(ctx, candidate, anchor)
		if err != nil {
			return 0, err
		}
		total += b
		if total >= s.cfg.MaxBonus {
			return s.cfg.MaxBonus, nil
		}
	}
	return total, nil
}

func (s *Scorer) anchorBonus(ctx context.Context, candidate, anchor model.PlaceID) (float64, error) {
	// The anchor being the very same place is the strongest agreement an
	// article can offer.
	if candidate == anchor {
		return s.cfg.ContainmentBonus, nil
	}

	within, err := s.contained(ctx, candidate, anchor)
	if err != nil {
		if eris.Is(err, gazetteer.ErrNotFound) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "coherence: containment check")
	}
	if within {
		return s.cfg.ContainmentBonus, nil
	}

	dist, err := s.store.DistanceMeters(ctx, candidate, anchor)
	if err != nil {
		if eris.Is(err, gazetteer.ErrNotFound) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "coherence: distance check")
	}
	if dist <= s.cfg.ProximityRadiusKM*1000 {
		return s.cfg.ProximityBonus, nil
	}
	return 0, nil
}

// contained reports containment in either direction between candidate and
// anchor.
func (s *Scorer) contained(ctx context.Context, candidate, anchor model.PlaceID) (bool, error) {
	within, err := s.store.IsWithin(ctx, candidate, anchor)
	if err != nil || within {
		return within, err
	}
	return s.store.IsWithin(ctx, anchor, candidate)
}
