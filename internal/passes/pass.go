package passes

import (
	"time"

	"github.com/star/passwatch/internal/propagation"
)

// Segment is a run of track points that never crosses the antimeridian, so
// it can be drawn as one polyline.
type Segment struct {
	Points          []propagation.TrackPoint `json:"points"`
	EffectiveAngles []float64                `json:"effective_angles"`
}

// Pass is one interval above the observer's horizon.
type Pass struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	MaxElevationTime time.Time `json:"max_elevation_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	MaxElevationDeg  float64   `json:"max_elevation"`
	AzimuthAtMaxDeg  float64   `json:"azimuth_at_max"`
	StartAzimuthDeg  float64   `json:"start_azimuth"`
	EndAzimuthDeg    float64   `json:"end_azimuth"`
	IsDaylight       bool      `json:"is_daylight"`
	Segments         []Segment `json:"segments"`
}

// Points returns every track point of the pass in time order.
func (p Pass) Points() []propagation.TrackPoint {
	var n int
	for _, s := range p.Segments {
		n += len(s.Points)
	}
	out := make([]propagation.TrackPoint, 0, n)
	for _, s := range p.Segments {
		out = append(out, s.Points...)
	}
	return out
}
