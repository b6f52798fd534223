package elevation

import (
	"math"

	"github.com/golang/geo/s2"
)

// Buckets are s2 cells at a fixed level. Level 20 cells have an edge of
// roughly 10 meters, so one resolved sample serves any nearby point.
const bucketLevel = 20

const earthRadiusM = 6371000.0

// LatLng is a lookup coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// bucketKey maps a coordinate to its cache key, the s2 cell token.
func bucketKey(lat, lon float64) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(bucketLevel).ToToken()
}

// destination computes the point at the given bearing and distance from a
// start coordinate, on a spherical earth.
func destination(lat, lon, bearingDeg, distanceM float64) LatLng {
	p := s2.LatLngFromDegrees(lat, lon)
	bearingRad := bearingDeg * math.Pi / 180
	angular := distanceM / earthRadiusM

	latRad := p.Lat.Radians()
	lonRad := p.Lng.Radians()

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	return LatLng{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}

// ringPoints returns the center plus points on concentric rings every
// stepM out to radiusM, deduplicated per bucket. One batched lookup over
// these points lets later queries anywhere in the neighborhood hit the
// cache.
func ringPoints(lat, lon float64, stepM, radiusM float64) []LatLng {
	if stepM <= 0 || radiusM < stepM {
		return []LatLng{{Lat: lat, Lon: lon}}
	}
	seen := map[string]bool{bucketKey(lat, lon): true}
	out := []LatLng{{Lat: lat, Lon: lon}}
	for dist := stepM; dist <= radiusM; dist += stepM {
		for deg := 0.0; deg < 360; deg += 10 {
			p := destination(lat, lon, deg, dist)
			k := bucketKey(p.Lat, p.Lon)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, p)
		}
	}
	return out
}
