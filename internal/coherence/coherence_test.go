package coherence

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressassoc/dateline/internal/config"
	"github.com/pressassoc/dateline/internal/gazetteer"
	"github.com/pressassoc/dateline/internal/model"
)

func coherenceDefaults() config.CoherenceConfig {
	return config.CoherenceConfig{
		ContainmentBonus:  0.25,
		ProximityBonus:    0.10,
		ProximityRadiusKM: 250,
		MaxBonus:          0.40,
	}
}

// fakeStore answers containment from an explicit edge set and distance from
// a symmetric pair map. Unlisted distance pairs are effectively infinite.
type fakeStore struct {
	within    map[[2]model.PlaceID]bool
	distances map[[2]model.PlaceID]float64
	err       error
}

func (s *fakeStore) LookupByName(context.Context, string) ([]gazetteer.NameMatch, error) {
	return nil, nil
}

func (s *fakeStore) GetPlace(context.Context, model.PlaceID) (*model.CanonicalPlace, error) {
	return nil, gazetteer.ErrNotFound
}

func (s *fakeStore) GetAdminPath(context.Context, model.PlaceID) ([]model.PlaceID, error) {
	return nil, gazetteer.ErrNotFound
}

func (s *fakeStore) IsWithin(_ context.Context, place, container model.PlaceID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.within[[2]model.PlaceID{place, container}], nil
}

func (s *fakeStore) DistanceMeters(_ context.Context, a, b model.PlaceID) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if d, ok := s.distances[[2]model.PlaceID{a, b}]; ok {
		return d, nil
	}
	if d, ok := s.distances[[2]model.PlaceID{b, a}]; ok {
		return d, nil
	}
	return 1e9, nil
}

func (s *fakeStore) Version() int { return 1 }

func (s *fakeStore) Close() error { return nil }

func TestScorer_Bonus_Containment(t *testing.T) {
	// Paris TX (12) sits inside Texas (11).
	store := &fakeStore{within: map[[2]model.PlaceID]bool{{12, 11}: true}}
	s := NewScorer(store, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 12, []model.PlaceID{11})
	require.NoError(t, err)
	assert.Equal(t, 0.25, bonus)
}

func TestScorer_Bonus_ContainmentEitherDirection(t *testing.T) {
	store := &fakeStore{within: map[[2]model.PlaceID]bool{{12, 11}: true}}
	s := NewScorer(store, coherenceDefaults())

	// The candidate is the container this time; the bonus still applies.
	bonus, err := s.Bonus(context.Background(), 11, []model.PlaceID{12})
	require.NoError(t, err)
	assert.Equal(t, 0.25, bonus)
}

func TestScorer_Bonus_ProximityWithinRadius(t *testing.T) {
	store := &fakeStore{distances: map[[2]model.PlaceID]float64{
		{12, 13}: 156_000, // Paris TX to Plano, well under 250km
	}}
	s := NewScorer(store, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 12, []model.PlaceID{13})
	require.NoError(t, err)
	assert.Equal(t, 0.10, bonus)
}

func TestScorer_Bonus_BeyondRadiusNoBonus(t *testing.T) {
	store := &fakeStore{distances: map[[2]model.PlaceID]float64{
		{3, 21}: 344_000, // Paris to London
	}}
	s := NewScorer(store, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 3, []model.PlaceID{21})
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestScorer_Bonus_ContainmentBeatsProximity(t *testing.T) {
	// Candidate is both inside the anchor and close to it; only the
	// containment bonus applies, not both.
	store := &fakeStore{
		within:    map[[2]model.PlaceID]bool{{12, 11}: true},
		distances: map[[2]model.PlaceID]float64{{12, 11}: 100_000},
	}
	s := NewScorer(store, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 12, []model.PlaceID{11})
	require.NoError(t, err)
	assert.Equal(t, 0.25, bonus)
}

func TestScorer_Bonus_SumsAcrossAnchorsUpToCap(t *testing.T) {
	store := &fakeStore{within: map[[2]model.PlaceID]bool{
		{12, 11}: true,
		{12, 10}: true,
		{12, 9}:  true,
	}}
	s := NewScorer(store, coherenceDefaults())

	// One containment plus one proximity stays under the cap.
	store.distances = map[[2]model.PlaceID]float64{{12, 8}: 50_000}
	bonus, err := s.Bonus(context.Background(), 12, []model.PlaceID{11, 8})
	require.NoError(t, err)
	assert.InDelta(t, 0.35, bonus, 0.0001)

	// Three containments would sum to 0.75; the cap holds at 0.40.
	bonus, err = s.Bonus(context.Background(), 12, []model.PlaceID{11, 10, 9})
	require.NoError(t, err)
	assert.Equal(t, 0.40, bonus)
}

func TestScorer_Bonus_SameAnchorPlace(t *testing.T) {
	s := NewScorer(&fakeStore{}, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 3, []model.PlaceID{3})
	require.NoError(t, err)
	assert.Equal(t, 0.25, bonus)
}

func TestScorer_Bonus_NoAnchors(t *testing.T) {
	s := NewScorer(&fakeStore{}, coherenceDefaults())

	bonus, err := s.Bonus(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestScorer_Bonus_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: eris.New("disk gone")}
	s := NewScorer(store, coherenceDefaults())

	_, err := s.Bonus(context.Background(), 3, []model.PlaceID{21})
	require.Error(t, err)
}

func TestScorer_Adjust_SetsBonusAndFinalScore(t *testing.T) {
	store := &fakeStore{within: map[[2]model.PlaceID]bool{{12, 11}: true}}
	s := NewScorer(store, coherenceDefaults())

	cands := []model.Candidate{
		{Place: &model.CanonicalPlace{ID: 3}, BaseScore: 0.85, FinalScore: 0.85},
		{Place: &model.CanonicalPlace{ID: 12}, BaseScore: 0.77, FinalScore: 0.77},
	}
	err := s.Adjust(context.Background(), cands, []model.PlaceID{11})
	require.NoError(t, err)

	assert.Zero(t, cands[0].CoherenceBonus)
	assert.InDelta(t, 0.85, cands[0].FinalScore, 0.0001)
	assert.Equal(t, 0.25, cands[1].CoherenceBonus)
	assert.InDelta(t, 1.02, cands[1].FinalScore, 0.0001)
}
