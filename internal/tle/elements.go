package tle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MuEarth is Earth's standard gravitational parameter in km³/s².
	MuEarth = 398600.4418
	// MeanEarthRadiusKm is the spherical radius used for height estimates.
	MeanEarthRadiusKm = 6371.0
)

// ElementsSummary holds the orbit shape figures needed by coarse filters.
type ElementsSummary struct {
	InclinationDeg float64
	HeightKm       float64
}

// Retrograde reports whether the orbit inclination exceeds 90°.
func (s ElementsSummary) Retrograde() bool {
	return s.InclinationDeg > 90
}

// Summarize reads inclination (cols 9-16) and mean motion (cols 53-63) from
// line 2 and derives a circular-orbit height via Kepler's third law.
func Summarize(rec Record) (ElementsSummary, error) {
	if len(rec.Line2) < 63 {
		return ElementsSummary{}, fmt.Errorf("%w: line2 length %d", ErrLineTooShort, len(rec.Line2))
	}

	incl, err := strconv.ParseFloat(strings.TrimSpace(rec.Line2[8:16]), 64)
	if err != nil {
		return ElementsSummary{}, fmt.Errorf("%w: inclination: %v", ErrInvalidField, err)
	}
	revsPerDay, err := strconv.ParseFloat(strings.TrimSpace(rec.Line2[52:63]), 64)
	if err != nil {
		return ElementsSummary{}, fmt.Errorf("%w: mean motion: %v", ErrInvalidField, err)
	}
	if revsPerDay <= 0 {
		return ElementsSummary{}, fmt.Errorf("%w: mean motion %v", ErrInvalidField, revsPerDay)
	}

	n := revsPerDay * 2 * math.Pi / 86400 // rad/s
	a := math.Cbrt(MuEarth / (n * n))

	return ElementsSummary{
		InclinationDeg: incl,
		HeightKm:       a - MeanEarthRadiusKm,
	}, nil
}
