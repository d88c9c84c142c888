// Package spatial provides the geodesic and geometry primitives used by
// coherence scoring: great-circle distance and point-in-region tests over
// go-geom geometries.
package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// earthRadiusMeters is the mean Earth radius used for haversine distance.
const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two WGS84
// coordinates in meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// PointInMultiPolygon reports whether the point lies inside the multipolygon.
// A point is inside when it falls within any polygon's outer ring and within
// none of that polygon's holes. Nil geometry is treated as no containment.
func PointInMultiPolygon(lng, lat float64, mp *geom.MultiPolygon) bool {
	if mp == nil {
		return false
	}

	// Bounding box fast path.
	if !mp.Bounds().OverlapsPoint(geom.XY, geom.Coord{lng, lat}) {
		return false
	}

	for i := 0; i < mp.NumPolygons(); i++ {
		if pointInPolygon(lng, lat, mp.Polygon(i)) {
			return true
		}
	}
	return false
}

func pointInPolygon(lng, lat float64, poly *geom.Polygon) bool {
	if poly == nil || poly.NumLinearRings() == 0 {
		return false
	}
	if !pointInRing(lng, lat, poly.LinearRing(0)) {
		return false
	}
	// Rings after the first are holes.
	for i := 1; i < poly.NumLinearRings(); i++ {
		if pointInRing(lng, lat, poly.LinearRing(i)) {
			return false
		}
	}
	return true
}

// pointInRing is an even-odd ray cast over the ring's flat coordinates.
func pointInRing(lng, lat float64, ring *geom.LinearRing) bool {
	flat := ring.FlatCoords()
	stride := ring.Stride()
	n := len(flat) / stride
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[i*stride], flat[i*stride+1]
		xj, yj := flat[j*stride], flat[j*stride+1]
		if ((yi > lat) != (yj > lat)) &&
			(lng < (xj-xi)*(lat-yi)/(yj-yi+1e-12)+xi) {
			inside = !inside
		}
	}
	return inside
}
