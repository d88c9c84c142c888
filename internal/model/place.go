// Package model defines the core types shared across the disambiguation
// engine: canonical gazetteer places, article mentions, candidates, and
// per-mention resolution results.
package model

import (
	"github.com/twpayne/go-geom"
)

// PlaceID is the stable integer identifier of a canonical place. IDs are
// assigned by the gazetteer ingestion process and never reassigned; merges
// rewrite alias and external-id edges onto the surviving ID instead of
// mutating identity.
type PlaceID int64

// PlaceKind classifies a canonical place by administrative level.
type PlaceKind string

// Place kinds, coarsest to finest.
const (
	KindCountry PlaceKind = "country"
	KindAdmin1  PlaceKind = "admin1"
	KindAdmin2  PlaceKind = "admin2"
	KindCity    PlaceKind = "city"
	KindOther   PlaceKind = "other"
)

// ValidKind reports whether k is one of the known place kinds.
func ValidKind(k PlaceKind) bool {
	switch k {
	case KindCountry, KindAdmin1, KindAdmin2, KindCity, KindOther:
		return true
	default:
		return false
	}
}

// CanonicalPlace is one entry in the gazetteer. Records are owned by the
// offline ingestion/sync process; the engine treats them as immutable for
// the lifetime of a snapshot.
type CanonicalPlace struct {
	ID          PlaceID           `json:"id"`
	Name        string            `json:"name"`
	Kind        PlaceKind         `json:"kind"`
	Lat         float64           `json:"lat"`
	Lng         float64           `json:"lng"`
	Population  *int64            `json:"population,omitempty"`
	AdminPath   []PlaceID         `json:"admin_path,omitempty"` // root-first, excludes ID
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	CountryCode string            `json:"country_code,omitempty"` // ISO 3166-1 alpha-2

	// Boundary is the optional region geometry (WGS84). Nil for places
	// that only carry a centroid.
	Boundary *geom.MultiPolygon `json:"-"`
}

// PopulationOrZero returns the population, or 0 when unknown.
func (p *CanonicalPlace) PopulationOrZero() int64 {
	if p.Population == nil {
		return 0
	}
	return *p.Population
}

// HasAncestor reports whether id appears in the place's admin path strictly
// above the place itself.
func (p *CanonicalPlace) HasAncestor(id PlaceID) bool {
	for _, a := range p.AdminPath {
		if a == p.ID {
			continue
		}
		if a == id {
			return true
		}
	}
	return false
}
