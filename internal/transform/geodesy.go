package transform

import "math"

// GreatCircleDeg returns the central angle in degrees between two points on a
// sphere, via the haversine formula.
func GreatCircleDeg(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := lat1*deg2rad, lat2*deg2rad
	dPhi := (lat2 - lat1) * deg2rad
	dLam := (lon2 - lon1) * deg2rad

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLam/2)*math.Sin(dLam/2)
	return 2 * math.Asin(math.Sqrt(clamp(h, 0, 1))) * rad2deg
}

// NormalizeLonDeg wraps a longitude into [-180, 180).
func NormalizeLonDeg(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// NormalizeDeg wraps an angle into [0, 360).
func NormalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
