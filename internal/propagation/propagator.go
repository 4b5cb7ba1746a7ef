package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/solar"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/transform"
)

// maxCachedSources bounds the initialised-model cache; it is reset when full.
const maxCachedSources = 4096

type sourceKey struct {
	noradID      int
	line1, line2 string
}

// Propagator samples an orbit over a search window and derives look angles,
// ground track and lighting for every step.
type Propagator struct {
	mech   Mechanics
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	sources map[sourceKey]StateSource
}

// NewPropagator creates a Propagator. A nil Mechanics selects SGP4.
func NewPropagator(mech Mechanics, config Config, logger *slog.Logger) *Propagator {
	if mech == nil {
		mech = SGP4Mechanics{}
	}
	return &Propagator{
		mech:    mech,
		config:  config.withDefaults(),
		logger:  logger,
		sources: make(map[sourceKey]StateSource),
	}
}

// Config returns the effective stepping configuration.
func (p *Propagator) Config() Config {
	return p.config
}

// source returns an initialised model for rec, building it at most once per
// element set (double-checked locking).
func (p *Propagator) source(rec tle.Record) (StateSource, error) {
	key := sourceKey{noradID: rec.NORADID, line1: rec.Line1, line2: rec.Line2}

	p.mu.RLock()
	src, ok := p.sources[key]
	p.mu.RUnlock()
	if ok {
		return src, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[key]; ok {
		return src, nil
	}

	src, err := p.mech.Init(rec)
	if err != nil {
		return nil, err
	}
	if len(p.sources) >= maxCachedSources {
		p.logger.Debug("model cache full, resetting", "entries", len(p.sources))
		p.sources = make(map[sourceKey]StateSource)
	}
	p.sources[key] = src
	return src, nil
}

// Propagate steps from filters.Start to filters.End (inclusive) at the
// configured cadence. The start is truncated to the whole second.
//
// An invalid record or a model that cannot be initialised fails before any
// stepping. A step that yields no usable state is logged and skipped.
func (p *Propagator) Propagate(ctx context.Context, rec tle.Record, observer Location, filters SearchFilters) ([]TrackPoint, error) {
	if err := observer.Validate(); err != nil {
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	start := filters.Start.UTC().Truncate(time.Second)
	end := filters.End.UTC()
	steps := int(end.Sub(start)/p.config.Step) + 1
	if steps > p.config.MaxSteps {
		return nil, fmt.Errorf("%w: %d steps of %s, limit %d", ErrTooManySteps, steps, p.config.Step, p.config.MaxSteps)
	}

	src, err := p.source(rec)
	if err != nil {
		return nil, err
	}

	obs := transform.NewObserver(observer.Lat, observer.Lng, 0)
	points := make([]TrackPoint, 0, steps)
	var skipped int
	began := time.Now()

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		at := start.Add(time.Duration(i) * p.config.Step)
		pt, err := samplePoint(src, obs, at)
		if err != nil {
			skipped++
			p.logger.Debug("skipping propagation step",
				"norad_id", rec.NORADID,
				"time", at.Format(time.RFC3339),
				"error", err,
			)
			continue
		}
		points = append(points, pt)
	}

	metrics.RecordPropagation(time.Since(began), len(points), skipped)
	if skipped > 0 {
		p.logger.Warn("propagation steps skipped",
			"norad_id", rec.NORADID,
			"skipped", skipped,
			"steps", steps,
		)
	}

	return points, nil
}

func samplePoint(src StateSource, obs transform.Observer, at time.Time) (TrackPoint, error) {
	teme, err := src.StateAt(at)
	if err != nil {
		return TrackPoint{}, err
	}

	ecef := transform.TEMEToECEF(teme, at)
	if !transform.ValidateECEF(ecef) {
		return TrackPoint{}, fmt.Errorf("implausible ECEF position, radius %.1f km", ecef.Radius())
	}

	look := obs.Look(ecef)
	sub := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
	if math.IsNaN(look.ElevationDeg) || math.IsNaN(sub.LatDeg) {
		return TrackPoint{}, fmt.Errorf("non-finite look angles")
	}

	gc := transform.GreatCircleDeg(obs.LatDeg, obs.LonDeg, sub.LatDeg, sub.LonDeg)
	factor := math.Max(0, 1-gc/90)

	return TrackPoint{
		Time:              at,
		ElevationDeg:      look.ElevationDeg,
		AzimuthDeg:        look.AzimuthDeg,
		RangeKm:           look.RangeKm,
		Lat:               sub.LatDeg,
		Lng:               sub.LonDeg,
		IsDaylight:        solar.IsDaylight(sub.LatDeg, sub.LonDeg, at),
		EffectiveAngleDeg: look.ElevationDeg * factor,
	}, nil
}
