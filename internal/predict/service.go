// Package predict ties the element-set sources, the visibility pre-filter
// and the pass worker into the operations the API and CLI expose.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/visibility"
)

var (
	// ErrUpstream wraps failures of the element-set provider.
	ErrUpstream = errors.New("element-set provider unavailable")
	// ErrNoCatalog is returned by Search when no catalog has been loaded.
	ErrNoCatalog = errors.New("no element-set catalog loaded")
)

// Lookup fetches a single element set from the provider.
type Lookup interface {
	FetchByNoradID(ctx context.Context, noradID int) (tle.Record, error)
}

// Catalog exposes the most recently loaded dataset.
type Catalog interface {
	Get() *tle.Dataset
}

// Calculator computes passes for one element set.
type Calculator interface {
	CalculatePasses(ctx context.Context, rec tle.Record, loc propagation.Location, filters propagation.SearchFilters) ([]passes.Pass, error)
}

// Publisher receives every freshly computed Result.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Config tunes a Service.
type Config struct {
	TLETTL            time.Duration // lifetime of element sets fetched on demand
	ResultTTL         time.Duration // lifetime of cached pass results
	SearchConcurrency int
	MaxSearchResults  int // candidates propagated per search after pre-filtering
	MaxWindow         time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TLETTL:            24 * time.Hour,
		ResultTTL:         time.Hour,
		SearchConcurrency: runtime.NumCPU(),
		MaxSearchResults:  200,
		MaxWindow:         6 * 24 * time.Hour,
	}
}

// Deps are the collaborators of a Service. Catalog and Publisher are
// optional.
type Deps struct {
	Cache      *cache.ElementCache
	Fetcher    Lookup
	Catalog    Catalog
	Calculator Calculator
	PreFilter  visibility.PreFilter
	Publisher  Publisher
}

// Result is the pass prediction for one object.
type Result struct {
	NORADID     int                       `json:"norad_id"`
	Name        string                    `json:"name"`
	Epoch       time.Time                 `json:"epoch"`
	Filters     propagation.SearchFilters `json:"filters"`
	Passes      []passes.Pass             `json:"passes"`
	PreFiltered bool                      `json:"prefiltered"`
	Cached      bool                      `json:"cached"`
	Error       string                    `json:"error,omitempty"`
}

// Service answers pass queries. Safe for concurrent use.
type Service struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewService creates a Service. Zero Config fields take their defaults.
func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.TLETTL <= 0 {
		cfg.TLETTL = def.TLETTL
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = def.SearchConcurrency
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = def.MaxSearchResults
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}
}

// ResolveTLE returns the element set for noradID from the cache, then the
// loaded catalog, then the provider. Records taken from the catalog or the
// provider are cached.
func (s *Service) ResolveTLE(ctx context.Context, noradID int) (tle.Record, error) {
	if rec, ok := s.deps.Cache.GetCachedTLE(ctx, noradID); ok {
		return rec, nil
	}

	if s.deps.Catalog != nil {
		if rec, ok := s.deps.Catalog.Get().Find(noradID); ok {
			s.remember(ctx, rec)
			return rec, nil
		}
	}

	if s.deps.Fetcher == nil {
		return tle.Record{}, fmt.Errorf("norad id %d: %w", noradID, tle.ErrNotFound)
	}
	rec, err := s.deps.Fetcher.FetchByNoradID(ctx, noradID)
	if err != nil {
		if errors.Is(err, tle.ErrNotFound) {
			return tle.Record{}, err
		}
		return tle.Record{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	s.remember(ctx, rec)
	return rec, nil
}

func (s *Service) remember(ctx context.Context, rec tle.Record) {
	if err := s.deps.Cache.CacheTLE(ctx, rec.NORADID, rec, s.cfg.TLETTL); err != nil {
		s.logger.Warn("caching element set failed", "norad_id", rec.NORADID, "error", err)
	}
}

// PassesFor predicts passes of noradID for filters. Results are cached per
// object, location and window.
func (s *Service) PassesFor(ctx context.Context, noradID int, filters propagation.SearchFilters) (Result, error) {
	if err := s.validate(filters); err != nil {
		return Result{}, err
	}

	key := resultKey(noradID, filters)
	if res, ok := cache.Get[Result](ctx, s.deps.Cache, key); ok {
		res.Cached = true
		return res, nil
	}

	rec, err := s.ResolveTLE(ctx, noradID)
	if err != nil {
		return Result{}, err
	}

	res, err := s.PassesForRecord(ctx, rec, filters)
	if err != nil {
		return Result{}, err
	}

	if err := s.deps.Cache.Set(ctx, key, res, s.cfg.ResultTTL); err != nil {
		s.logger.Warn("caching pass result failed", "norad_id", noradID, "error", err)
	}
	s.publish(ctx, res)
	return res, nil
}

// PassesForRecord predicts passes for an element set supplied by the caller.
// Malformed records are rejected before any propagation.
func (s *Service) PassesForRecord(ctx context.Context, rec tle.Record, filters propagation.SearchFilters) (Result, error) {
	if err := s.validate(filters); err != nil {
		return Result{}, err
	}
	// The worker reports init failures as an empty pass list, so anything
	// SGP4 cannot seed has to be rejected here.
	if err := propagation.CheckRecord(rec); err != nil {
		return Result{}, err
	}

	res := Result{
		NORADID: rec.NORADID,
		Name:    rec.Name,
		Epoch:   rec.Epoch,
		Filters: filters,
		Passes:  []passes.Pass{},
	}

	visible, err := s.possiblyVisible(rec, filters)
	if err != nil {
		return Result{}, err
	}
	if !visible {
		res.PreFiltered = true
		return res, nil
	}

	found, err := s.deps.Calculator.CalculatePasses(ctx, rec, filters.Location, filters)
	if err != nil {
		return Result{}, err
	}
	if found != nil {
		res.Passes = found
	}
	return res, nil
}

func (s *Service) possiblyVisible(rec tle.Record, filters propagation.SearchFilters) (bool, error) {
	summary, err := tle.Summarize(rec)
	if err != nil {
		return false, fmt.Errorf("norad id %d: %w", rec.NORADID, err)
	}
	pre := s.deps.PreFilter.WithMinElevation(filters.MinElevationDeg)
	ok := pre.IsPossiblyVisible(filters.Location.Lat, filters.Location.Lng, summary)
	metrics.IncPrefilter(ok)
	return ok, nil
}

func (s *Service) publish(ctx context.Context, res Result) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, strconv.Itoa(res.NORADID), res); err != nil {
		s.logger.Warn("publishing pass result failed", "norad_id", res.NORADID, "error", err)
	}
}

// SearchRequest selects the candidates of a Search. An empty NORADIDs list
// means the whole loaded catalog.
type SearchRequest struct {
	Filters  propagation.SearchFilters
	NORADIDs []int
}

// Search predicts passes for many objects at once. Candidates the
// pre-filter rejects are dropped without propagation; the remainder is
// computed concurrently, bounded by SearchConcurrency. Only objects with at
// least one pass, or with a per-object error, are returned, ordered by
// first pass.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	if err := s.validate(req.Filters); err != nil {
		return nil, err
	}

	candidates, failed, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	var visible []tle.Record
	for _, rec := range candidates {
		ok, err := s.possiblyVisible(rec, req.Filters)
		if err != nil {
			failed = append(failed, Result{NORADID: rec.NORADID, Name: rec.Name, Error: err.Error()})
			continue
		}
		if ok {
			visible = append(visible, rec)
		}
	}
	if len(visible) > s.cfg.MaxSearchResults {
		s.logger.Warn("search truncated",
			"candidates", len(visible),
			"limit", s.cfg.MaxSearchResults,
		)
		visible = visible[:s.cfg.MaxSearchResults]
	}

	results := make([]Result, len(visible))
	sem := make(chan struct{}, s.cfg.SearchConcurrency)
	var wg sync.WaitGroup

	for i, rec := range visible {
		wg.Add(1)
		go func(idx int, rec tle.Record) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Result{NORADID: rec.NORADID, Name: rec.Name, Error: "cancelled"}
				return
			}

			res, err := s.PassesForRecord(ctx, rec, req.Filters)
			if err != nil {
				results[idx] = Result{NORADID: rec.NORADID, Name: rec.Name, Error: err.Error()}
				return
			}
			results[idx] = res
		}(i, rec)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results)+len(failed))
	for _, res := range results {
		if len(res.Passes) > 0 || res.Error != "" {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return firstPass(out[i]).Before(firstPass(out[j]))
	})
	out = append(out, failed...)

	s.logger.Info("search complete",
		"candidates", len(candidates),
		"propagated", len(visible),
		"with_passes", len(out)-len(failed),
	)
	return out, nil
}

func (s *Service) candidates(ctx context.Context, req SearchRequest) ([]tle.Record, []Result, error) {
	if len(req.NORADIDs) == 0 {
		if s.deps.Catalog == nil {
			return nil, nil, ErrNoCatalog
		}
		ds := s.deps.Catalog.Get()
		if ds == nil || len(ds.Satellites) == 0 {
			return nil, nil, ErrNoCatalog
		}
		return ds.Satellites, nil, nil
	}

	var (
		recs   []tle.Record
		failed []Result
	)
	seen := make(map[int]bool, len(req.NORADIDs))
	for _, id := range req.NORADIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, err := s.ResolveTLE(ctx, id)
		if err != nil {
			failed = append(failed, Result{NORADID: id, Error: err.Error()})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, failed, nil
}

// firstPass orders results without passes last.
func firstPass(r Result) time.Time {
	if len(r.Passes) == 0 {
		return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return r.Passes[0].Start
}

func (s *Service) validate(f propagation.SearchFilters) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if w := f.End.Sub(f.Start); w > s.cfg.MaxWindow {
		return fmt.Errorf("%w: window %s exceeds %s", propagation.ErrTooManySteps, w, s.cfg.MaxWindow)
	}
	return nil
}

func resultKey(noradID int, f propagation.SearchFilters) string {
	return fmt.Sprintf("passes:%d:%.4f:%.4f:%d:%d:%g:%t",
		noradID,
		f.Location.Lat, f.Location.Lng,
		f.Start.Unix(), f.End.Unix(),
		f.MinElevationDeg, f.ConsiderDaylight,
	)
}
