// Package visibility rejects candidates that can never rise above the
// minimum elevation for an observer, using a closed-form latitude bound.
//
// The filter is one-sided. It may pass objects that turn out not to be
// visible, leaving the final answer to full propagation, but it must never
// reject an object that is. Do not tighten the longitude handling without
// keeping that property.
//
// Orbits above PolarInclinationDeg are accepted everywhere. A retrograde
// orbit is judged by its supplement 180−i, so only effective inclinations
// above that limit are accepted unconditionally. For i ≥ 100° the filter
// falls back to the latitude band test, which still holds because the
// supplement is the highest latitude the ground track reaches.
package visibility

import (
	"math"

	"github.com/star/passwatch/internal/tle"
)

// PreFilter holds the geometry constants of the latitude bound.
type PreFilter struct {
	MinElevationDeg     float64
	RefractionDeg       float64
	EarthRadiusKm       float64
	PolarInclinationDeg float64
}

// DefaultPreFilter returns the filter used when nothing is configured.
func DefaultPreFilter() PreFilter {
	return PreFilter{
		MinElevationDeg:     10,
		RefractionDeg:       0.25,
		EarthRadiusKm:       6371,
		PolarInclinationDeg: 80,
	}
}

// WithMinElevation returns a copy using a different elevation threshold.
func (f PreFilter) WithMinElevation(deg float64) PreFilter {
	f.MinElevationDeg = deg
	return f
}

// VisibilityRadiusDeg is the Earth-central half-angle of the footprint within
// which a circular orbit at heightKm is above the minimum elevation:
//
//	central = acos(R/(R+h)·cos e) − e,  e = minElev − refraction
func (f PreFilter) VisibilityRadiusDeg(heightKm float64) float64 {
	if heightKm <= 0 {
		return 0
	}
	e := (f.MinElevationDeg - f.RefractionDeg) * math.Pi / 180
	ratio := f.EarthRadiusKm / (f.EarthRadiusKm + heightKm) * math.Cos(e)
	central := math.Acos(math.Max(-1, math.Min(1, ratio))) - e
	if central < 0 {
		return 0
	}
	return central * 180 / math.Pi
}

// IsPossiblyVisible reports whether an orbit could bring the object above the
// minimum elevation for an observer at (lat, lng). Longitude is not used: at
// some point of the day every longitude passes under the ground track.
func (f PreFilter) IsPossiblyVisible(lat, _ float64, s tle.ElementsSummary) bool {
	// A retrograde orbit reaches the same latitude band as its supplement.
	maxLat := s.InclinationDeg
	if s.Retrograde() {
		maxLat = 180 - maxLat
	}
	if maxLat > f.PolarInclinationDeg {
		return true
	}

	return math.Abs(lat) <= maxLat+f.VisibilityRadiusDeg(s.HeightKm)
}
