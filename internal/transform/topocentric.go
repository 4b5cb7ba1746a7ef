package transform

import "math"

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378.137              // semi-major axis, km
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Observer is a ground station with its ECEF position precomputed, so it can
// be reused across every step of a propagation run.
type Observer struct {
	LatDeg, LonDeg float64
	AltKm          float64

	latRad, lonRad float64
	sinLat, cosLat float64
	sinLon, cosLon float64
	x, y, z        float64 // ECEF km
}

// NewObserver builds an Observer from geodetic degrees and height in km above
// the WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	o := Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		AltKm:  altKm,
		latRad: latDeg * deg2rad,
		lonRad: lonDeg * deg2rad,
	}
	o.sinLat, o.cosLat = math.Sincos(o.latRad)
	o.sinLon, o.cosLon = math.Sincos(o.lonRad)
	o.x, o.y, o.z = geodeticToECEF(o.sinLat, o.cosLat, o.sinLon, o.cosLon, altKm)
	return o
}

// ECEF returns the observer's Earth-fixed position in km.
func (o Observer) ECEF() (x, y, z float64) {
	return o.x, o.y, o.z
}

func geodeticToECEF(sinLat, cosLat, sinLon, cosLon, altKm float64) (x, y, z float64) {
	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	x = (n + altKm) * cosLat * cosLon
	y = (n + altKm) * cosLat * sinLon
	z = (n*(1-wgs84E2) + altKm) * sinLat
	return x, y, z
}

// LookAngles holds azimuth, elevation and slant range from an observer.
type LookAngles struct {
	AzimuthDeg   float64 // [0, 360), 0 = North, clockwise
	ElevationDeg float64 // [-90, 90], 0 = horizon
	RangeKm      float64
}

// Geodetic is a WGS-84 geodetic position.
type Geodetic struct {
	LatDeg, LonDeg float64
	AltKm          float64
}

// ECEFToGeodetic converts an ECEF position in km to geodetic coordinates using
// Bowring's iteration; a handful of rounds converge for any orbit.
func ECEFToGeodetic(x, y, z float64) Geodetic {
	lon := math.Atan2(y, x)
	p := math.Hypot(x, y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < 5; i++ {
		s := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
		lat = math.Atan2(z+wgs84E2*n*s, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		LatDeg: lat * rad2deg,
		LonDeg: lon * rad2deg,
		AltKm:  alt,
	}
}

// Look computes look angles from the observer to an ECEF position in km,
// rotating the range vector into SEZ (Vallado 4.4).
func (o Observer) Look(sat PositionECEF) LookAngles {
	rx := sat.X - o.x
	ry := sat.Y - o.y
	rz := sat.Z - o.z

	south := o.sinLat*o.cosLon*rx + o.sinLat*o.sinLon*ry - o.cosLat*rz
	east := -o.sinLon*rx + o.cosLon*ry
	zenith := o.cosLat*o.cosLon*rx + o.cosLat*o.sinLon*ry + o.sinLat*rz

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	el := math.Asin(clamp(zenith/rng, -1, 1))

	// North is -South in SEZ.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	azDeg := az * rad2deg
	if azDeg >= 360 {
		azDeg -= 360
	}

	return LookAngles{
		AzimuthDeg:   azDeg,
		ElevationDeg: el * rad2deg,
		RangeKm:      rng,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
