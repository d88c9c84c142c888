// Package gazetteer provides read access to canonical place records. The
// primary backend is an immutable local SQLite snapshot; a PostGIS authority
// database sits behind it for snapshot builds and background backfill.
package gazetteer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pressassoc/dateline/internal/model"
)

// ErrGazetteerUnavailable is returned when no usable gazetteer backend can
// be reached. Callers must distinguish this from an empty lookup result: a
// name with no entries is a valid answer, an unreachable store is not.
var ErrGazetteerUnavailable = eris.New("gazetteer: store unavailable")

// ErrNotFound is returned when a place id has no record.
var ErrNotFound = eris.New("gazetteer: place not found")

// NameMatch pairs a place with the lookup tier its name matched at.
// Similarity is 1.0 for exact and alias matches and the trigram similarity
// for fuzzy matches.
type NameMatch struct {
	Place      model.CanonicalPlace
	Tier       model.MatchTier
	Similarity float64
}

// Store is the read surface used during disambiguation. Implementations
// must be safe for concurrent use.
type Store interface {
	// LookupByName returns all places matching a folded name, tiered:
	// exact matches short-circuit alias matches, which short-circuit
	// fuzzy matches. An empty slice with nil error means the name is
	// simply unknown.
	LookupByName(ctx context.Context, folded string) ([]NameMatch, error)

	// GetPlace returns the full record for a place id, including aliases.
	GetPlace(ctx context.Context, id model.PlaceID) (*model.CanonicalPlace, error)

	// GetAdminPath returns the ancestor chain for a place, root first,
	// excluding the place itself.
	GetAdminPath(ctx context.Context, id model.PlaceID) ([]model.PlaceID, error)

	// IsWithin reports whether place id lies inside container, first by
	// the admin hierarchy and then by boundary geometry where available.
	IsWithin(ctx context.Context, id, container model.PlaceID) (bool, error)

	// DistanceMeters returns the great-circle distance between the
	// representative points of two places.
	DistanceMeters(ctx context.Context, a, b model.PlaceID) (float64, error)

	// Version identifies the gazetteer build this store reads from.
	Version() int

	Close() error
}
