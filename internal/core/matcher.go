package core

import (
	"math"

	"landslide_service/internal/domain/model"
)

// DefaultTolerance is the deduplication tolerance in degrees, roughly
// ten meters at the equator. The box test does not compensate for
// longitude compression at higher latitudes; callers targeting those
// latitudes pick their own value.
const DefaultTolerance = 0.0001

// FindNearby returns the first record whose coordinate falls inside
// the axis-aligned tolerance box around candidate, or nil when none
// does. Matching is inclusive on both axes and preserves the order of
// existing: the caller controls ordering and the first match wins.
// Pure; an empty existing set is simply no match.
func FindNearby(candidate model.Coordinate, tolerance float64, existing []model.LandslideRecord) *model.LandslideRecord {
	for i := range existing {
		c := existing[i].Coordinate
		if math.Abs(c.Lat-candidate.Lat) <= tolerance &&
			math.Abs(c.Lng-candidate.Lng) <= tolerance {
			match := existing[i]
			return &match
		}
	}
	return nil
}
