package passes

import (
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/solar"
)

// Build turns a propagated sample stream into the passes worth reporting:
// above-horizon windows are segmented, passes peaking below
// filters.MinElevationDeg are dropped, lighting is judged at the observer at
// the time of peak elevation, and daylight passes are dropped when
// filters.ConsiderDaylight is set.
func Build(points []propagation.TrackPoint, filters propagation.SearchFilters, observer propagation.Location) []Pass {
	var out []Pass
	for _, w := range SplitWindows(points) {
		p := FoldPass(w)
		if p.MaxElevationDeg < filters.MinElevationDeg {
			continue
		}
		p.IsDaylight = solar.IsDaylight(observer.Lat, observer.Lng, p.MaxElevationTime)
		if filters.ConsiderDaylight && p.IsDaylight {
			continue
		}
		out = append(out, p)
	}
	return out
}
