package propagation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/transform"
)

// ErrMechanicsInit is returned when an element set cannot seed the model.
var ErrMechanicsInit = errors.New("orbital model initialisation failed")

// Mechanics builds a state source from an element set.
type Mechanics interface {
	Init(rec tle.Record) (StateSource, error)
}

// StateSource yields inertial state vectors for one object.
type StateSource interface {
	StateAt(t time.Time) (transform.PositionTEME, error)
}

// SGP4Mechanics implements Mechanics with github.com/joshuaferrara/go-satellite
// on WGS-84 constants.
//
// go-satellite calls log.Fatal when a field fails to parse, so Init checks
// the lines with tle.Validate and re-parses every column slice the library
// reads before handing them over. Propagate takes the Satellite by value, so
// SGP4 error codes are lost; failures are detected from NaN/Inf output and
// implausible radii instead.
type SGP4Mechanics struct{}

// Init validates the record and builds an SGP4 state source.
func (SGP4Mechanics) Init(rec tle.Record) (StateSource, error) {
	if err := tle.Validate(rec.Line1, rec.Line2); err != nil {
		return nil, fmt.Errorf("NORAD %d: %w", rec.NORADID, err)
	}
	line1 := strings.TrimRight(rec.Line1, "\r\n ")
	line2 := strings.TrimRight(rec.Line2, "\r\n ")
	if err := checkLibraryFields(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: NORAD %d: %v", ErrMechanicsInit, rec.NORADID, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: NORAD %d: code=%d %s", ErrMechanicsInit, rec.NORADID, sat.Error, sat.ErrorStr)
	}
	return &sgp4Source{sat: sat, noradID: rec.NORADID}, nil
}

// CheckRecord reports whether rec can seed the SGP4 model. Callers use it
// to reject element sets before a worker tries to step them.
func CheckRecord(rec tle.Record) error {
	_, err := SGP4Mechanics{}.Init(rec)
	return err
}

// checkLibraryFields mirrors the column slices go-satellite parses.
func checkLibraryFields(line1, line2 string) error {
	squeeze := func(s string) string { return strings.Replace(s, " ", "", 2) }

	if _, err := strconv.ParseInt(strings.TrimSpace(line1[2:7]), 10, 0); err != nil {
		return fmt.Errorf("catalog number %q not supported by SGP4 backend", line1[2:7])
	}
	if _, err := strconv.ParseInt(line1[18:20], 10, 0); err != nil {
		return fmt.Errorf("epoch year %q", line1[18:20])
	}

	floats := []struct {
		name string
		v    string
	}{
		{"epoch day", line1[20:32]},
		{"ndot", squeeze(line1[33:43])},
		{"nddot", squeeze(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52])},
		{"bstar", squeeze(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61])},
		{"inclination", squeeze(line2[8:16])},
		{"raan", squeeze(line2[17:25])},
		{"eccentricity", "." + line2[26:33]},
		{"argument of perigee", squeeze(line2[34:42])},
		{"mean anomaly", squeeze(line2[43:51])},
		{"mean motion", squeeze(line2[52:63])},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(f.v, 64); err != nil {
			return fmt.Errorf("%s %q", f.name, f.v)
		}
	}
	return nil
}

type sgp4Source struct {
	sat     satellite.Satellite
	noradID int
}

// StateAt propagates to t. go-satellite takes whole seconds, so t is
// truncated to the second.
func (s *sgp4Source) StateAt(t time.Time) (transform.PositionTEME, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(s.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	teme := transform.PositionTEME{X: pos.X, Y: pos.Y, Z: pos.Z, VX: vel.X, VY: vel.Y, VZ: vel.Z}
	for _, v := range [...]float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", s.noradID)
		}
	}
	if r := teme.Radius(); r < transform.MinOrbitRadiusKm || r > transform.MaxOrbitRadiusKm {
		return transform.PositionTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", s.noradID, r)
	}
	return teme, nil
}
