package propagation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidLocation = errors.New("invalid observer location")
	ErrInvalidWindow   = errors.New("invalid search window")
	ErrTooManySteps    = errors.New("search window exceeds step budget")
)

// Location is an observer position in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: lat %v outside [-90, 90]", ErrInvalidLocation, l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: lng %v outside [-180, 180]", ErrInvalidLocation, l.Lng)
	}
	return nil
}

// SearchFilters bound a pass search.
type SearchFilters struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	MinElevationDeg  float64   `json:"min_elevation"`
	Location         Location  `json:"location"`
	ConsiderDaylight bool      `json:"consider_daylight"`
}

// Validate checks the window ordering, the elevation range and the location.
func (f SearchFilters) Validate() error {
	if f.Start.IsZero() || f.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if f.End.Before(f.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow,
			f.End.UTC().Format(time.RFC3339), f.Start.UTC().Format(time.RFC3339))
	}
	if f.MinElevationDeg < -90 || f.MinElevationDeg > 90 {
		return fmt.Errorf("%w: min elevation %v outside [-90, 90]", ErrInvalidWindow, f.MinElevationDeg)
	}
	return f.Location.Validate()
}

// TrackPoint is one propagation sample as seen from the observer.
type TrackPoint struct {
	Time              time.Time `json:"time"`
	ElevationDeg      float64   `json:"elevation"`
	AzimuthDeg        float64   `json:"azimuth"`
	RangeKm           float64   `json:"range_km"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	IsDaylight        bool      `json:"is_daylight"`
	IsSegmentBreak    bool      `json:"is_segment_break,omitempty"`
	EffectiveAngleDeg float64   `json:"effective_angle"`
}

// Config controls the stepping cadence.
type Config struct {
	Step     time.Duration // Sampling interval (default: 30s)
	MaxSteps int           // Upper bound on samples per run (default: 20000)
}

// DefaultConfig returns the stepping defaults.
func DefaultConfig() Config {
	return Config{Step: 30 * time.Second, MaxSteps: 20000}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Step < time.Second {
		c.Step = d.Step
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	return c
}
