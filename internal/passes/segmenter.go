package passes

import (
	"math"

	"github.com/star/passwatch/internal/propagation"
)

// antimeridianJumpDeg is the longitude step above which two consecutive
// samples are taken to straddle ±180°.
const antimeridianJumpDeg = 180.0

// FoldPass folds an ordered run of track points into a Pass. A new segment
// starts whenever consecutive longitudes differ by more than 180°, and its
// first point is flagged IsSegmentBreak. FoldPass never drops a pass; callers
// apply elevation thresholds.
func FoldPass(points []propagation.TrackPoint) Pass {
	if len(points) == 0 {
		return Pass{}
	}

	var (
		pass = Pass{
			Start:           points[0].Time,
			End:             points[len(points)-1].Time,
			StartAzimuthDeg: points[0].AzimuthDeg,
			EndAzimuthDeg:   points[len(points)-1].AzimuthDeg,
			MaxElevationDeg: math.Inf(-1),
		}
		cur Segment
	)

	for i, pt := range points {
		if i > 0 && math.Abs(pt.Lng-points[i-1].Lng) > antimeridianJumpDeg {
			pass.Segments = append(pass.Segments, cur)
			cur = Segment{}
			pt.IsSegmentBreak = true
		} else {
			pt.IsSegmentBreak = false
		}

		if pt.ElevationDeg > pass.MaxElevationDeg {
			pass.MaxElevationDeg = pt.ElevationDeg
			pass.MaxElevationTime = pt.Time
			pass.AzimuthAtMaxDeg = pt.AzimuthDeg
		}

		cur.Points = append(cur.Points, pt)
		cur.EffectiveAngles = append(cur.EffectiveAngles, pt.EffectiveAngleDeg)
	}
	pass.Segments = append(pass.Segments, cur)
	pass.DurationSeconds = pass.End.Sub(pass.Start).Seconds()

	return pass
}

// SplitWindows cuts a sample stream into maximal runs with elevation ≥ 0.
// A run that touches the start or end of the stream is kept as is.
func SplitWindows(points []propagation.TrackPoint) [][]propagation.TrackPoint {
	var (
		windows [][]propagation.TrackPoint
		start   = -1
	)
	for i, pt := range points {
		above := pt.ElevationDeg >= 0
		switch {
		case above && start < 0:
			start = i
		case !above && start >= 0:
			windows = append(windows, points[start:i:i])
			start = -1
		}
	}
	if start >= 0 {
		windows = append(windows, points[start:len(points):len(points)])
	}
	return windows
}
