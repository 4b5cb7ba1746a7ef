// Package transform converts SGP4 state vectors into observer-relative
// quantities: TEME to Earth-fixed rotation, geodetic sub-satellite points,
// topocentric look angles and great-circle distances.
//
// The TEME → ECEF step rotates by GMST only (TEME → PEF ≈ ECEF). Polar motion
// and the equation of the equinoxes are ignored; the error is tens of meters,
// far below what pass timing at 30 s resolution can resolve.
package transform

import (
	"math"
	"time"
)

// PositionTEME is a state vector in the TEME frame.
type PositionTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// Radius returns the geocentric distance in km.
func (p PositionTEME) Radius() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// PositionECEF is a state vector in the Earth-fixed frame.
type PositionECEF struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// Radius returns the geocentric distance in km.
func (p PositionECEF) Radius() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// TEMEToECEF rotates a TEME state vector into ECEF at the given UTC time.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST rotates with a precomputed GMST angle (radians).
//
//	r_ECEF = R3(θ)·r_TEME
//	v_ECEF = R3(θ)·v_TEME − ω × r_ECEF
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	cosG, sinG := math.Cos(gmst), math.Sin(gmst)

	x := teme.X*cosG + teme.Y*sinG
	y := -teme.X*sinG + teme.Y*cosG

	vx := teme.VX*cosG + teme.VY*sinG
	vy := -teme.VX*sinG + teme.VY*cosG

	// ω × r = [-ω·y, ω·x, 0]
	return PositionECEF{
		X:  x,
		Y:  y,
		Z:  teme.Z,
		VX: vx + OmegaEarth*y,
		VY: vy - OmegaEarth*x,
		VZ: teme.VZ,
	}
}

// Plausible radius band for an Earth-orbiting object, km.
const (
	MinOrbitRadiusKm = 6200.0
	MaxOrbitRadiusKm = 50000.0
)

// ValidateECEF reports whether a position is finite and inside the plausible
// orbit band. Decayed or diverged SGP4 output fails this check.
func ValidateECEF(pos PositionECEF) bool {
	for _, v := range [...]float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r := pos.Radius()
	return r >= MinOrbitRadiusKm && r <= MaxOrbitRadiusKm
}
