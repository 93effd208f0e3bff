package sensors

import (
	"math"

	"github.com/jkaberg/enbw-hass/internal/enbw"
)

const earthRadiusMeters = 6371000.0

// DeriveState maps the availability count onto the categorical station
// state: "available" when at least one charge point is free.
func DeriveState(s *enbw.Snapshot) string {
	if s != nil && s.Available > 0 {
		return StateAvailable
	}
	return StateUnavailable
}

// HaversineMeters returns great-circle distance in metres between two lat/lon points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
