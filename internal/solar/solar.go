// Package solar holds a low-precision solar ephemeris and the day/night
// predicate used for pass classification.
package solar

import (
	"math"
	"time"

	"github.com/star/passwatch/internal/transform"
)

// HorizonDeg is the solar altitude at which the upper limb touches the
// horizon: 16' semidiameter plus 34' standard refraction.
const HorizonDeg = -0.833

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// DeclinationDeg returns the Sun's declination from the Astronomical
// Almanac low-precision formulas, good to about 0.01° this century.
func DeclinationDeg(t time.Time) float64 {
	n := transform.DaysSinceJ2000(t)

	l := transform.NormalizeDeg(280.460 + 0.9856474*n)
	g := transform.NormalizeDeg(357.528+0.9856003*n) * deg2rad
	lambda := (l + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)) * deg2rad
	eps := (23.439 - 0.0000004*n) * deg2rad

	return math.Asin(math.Sin(eps)*math.Sin(lambda)) * rad2deg
}

// GreenwichHourAngleDeg is the hour angle of the mean Sun at Greenwich,
// (utcHours − 12)·15, normalised to [-180, 180).
func GreenwichHourAngleDeg(t time.Time) float64 {
	t = t.UTC()
	h := float64(t.Hour()) + float64(t.Minute())/60 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600
	return transform.NormalizeLonDeg((h - 12) * 15)
}

// SubsolarLongitudeDeg is the longitude where the mean Sun culminates,
// ignoring the equation of time. The Sun moves west, so this is the negated
// Greenwich hour angle.
func SubsolarLongitudeDeg(t time.Time) float64 {
	return transform.NormalizeLonDeg(-GreenwichHourAngleDeg(t))
}

// AltitudeDeg returns the Sun's altitude above the horizon at (lat, lng):
//
//	sin(alt) = sin φ·sin δ + cos φ·cos δ·cos H,  H = lng − subsolar longitude
func AltitudeDeg(lat, lng float64, t time.Time) float64 {
	dec := DeclinationDeg(t) * deg2rad
	phi := lat * deg2rad
	ha := (lng - SubsolarLongitudeDeg(t)) * deg2rad

	s := math.Sin(phi)*math.Sin(dec) + math.Cos(phi)*math.Cos(dec)*math.Cos(ha)
	return math.Asin(math.Max(-1, math.Min(1, s))) * rad2deg
}

// IsDaylight reports whether the Sun is above HorizonDeg at (lat, lng).
// Every pass and track decision uses this predicate.
func IsDaylight(lat, lng float64, t time.Time) bool {
	return AltitudeDeg(lat, lng, t) > HorizonDeg
}

// IsDaylightBySubsolarLongitude is a coarse predicate: true when lng is
// within 90° of the subsolar meridian. It ignores season and latitude, so it
// disagrees with IsDaylight near the terminator and at high latitudes. Kept
// for map shading only.
func IsDaylightBySubsolarLongitude(_, lng float64, t time.Time) bool {
	d := math.Abs(transform.NormalizeLonDeg(lng - SubsolarLongitudeDeg(t)))
	return d <= 90
}
