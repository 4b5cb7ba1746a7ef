package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/solar"
	"github.com/star/passwatch/internal/tle"
)

const (
	maxBodyBytes        = 1 << 20
	defaultWindow       = 24 * time.Hour
	defaultMinElevation = 10.0
)

type handlers struct {
	svc     *predict.Service
	cache   *cache.ElementCache
	catalog *tle.Store
	reload  func(ctx context.Context) (int, error)
	logger  *slog.Logger
	now     func() time.Time
}

// windowParams is the wire form shared by the pass endpoints. Zero values
// take defaults: start now, a 24 h window, 10° minimum elevation.
type windowParams struct {
	Lat              *float64  `json:"lat"`
	Lng              *float64  `json:"lng"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	MinElevation     *float64  `json:"min_elevation"`
	ConsiderDaylight bool      `json:"consider_daylight"`
}

func (h *handlers) filters(p windowParams) (propagation.SearchFilters, error) {
	if p.Lat == nil || p.Lng == nil {
		return propagation.SearchFilters{}, fmt.Errorf("%w: lat and lng are required", errBadRequest)
	}
	f := propagation.SearchFilters{
		Start:            p.Start,
		End:              p.End,
		MinElevationDeg:  defaultMinElevation,
		Location:         propagation.Location{Lat: *p.Lat, Lng: *p.Lng},
		ConsiderDaylight: p.ConsiderDaylight,
	}
	if f.Start.IsZero() {
		f.Start = h.now().UTC().Truncate(time.Second)
	}
	if f.End.IsZero() {
		f.End = f.Start.Add(defaultWindow)
	}
	if p.MinElevation != nil {
		f.MinElevationDeg = *p.MinElevation
	}
	return f, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return &v, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339", errBadRequest, name)
	}
	return t, nil
}

func windowFromQuery(r *http.Request) (windowParams, error) {
	var (
		p   windowParams
		err error
	)
	if p.Lat, err = queryFloat(r, "lat"); err != nil {
		return p, err
	}
	if p.Lng, err = queryFloat(r, "lng"); err != nil {
		return p, err
	}
	if p.MinElevation, err = queryFloat(r, "min_elevation"); err != nil {
		return p, err
	}
	if p.Start, err = queryTime(r, "start"); err != nil {
		return p, err
	}
	if p.End, err = queryTime(r, "end"); err != nil {
		return p, err
	}
	if s := r.URL.Query().Get("daylight"); s != "" {
		if p.ConsiderDaylight, err = strconv.ParseBool(s); err != nil {
			return p, fmt.Errorf("%w: daylight must be a boolean", errBadRequest)
		}
	}
	return p, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// GET /api/v1/passes/{norad_id}
func (h *handlers) getPasses(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["norad_id"])
	if err != nil || id <= 0 {
		writeError(w, r, h.logger, fmt.Errorf("%w: invalid norad_id", errBadRequest))
		return
	}
	p, err := windowFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f, err := h.filters(p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.svc.PassesFor(r.Context(), id, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type customPassesRequest struct {
	windowParams
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// POST /api/v1/passes with a caller-supplied element set.
func (h *handlers) postPasses(w http.ResponseWriter, r *http.Request) {
	var req customPassesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rec, err := tle.NewRecord(req.Name, req.Line1, req.Line2)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f, err := h.filters(req.windowParams)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.svc.PassesForRecord(r.Context(), rec, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type searchRequest struct {
	windowParams
	NORADIDs []int `json:"norad_ids"`
}

// POST /api/v1/passes/search
func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	f, err := h.filters(req.windowParams)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	results, err := h.svc.Search(r.Context(), predict.SearchRequest{Filters: f, NORADIDs: req.NORADIDs})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filters": f,
		"count":   len(results),
		"results": results,
	})
}

// GET /api/v1/visibility
func (h *handlers) visibility(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lng, err := queryFloat(r, "lng")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if lat == nil || lng == nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: lat and lng are required", errBadRequest))
		return
	}
	loc := propagation.Location{Lat: *lat, Lng: *lng}
	if err := loc.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	at, err := queryTime(r, "time")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if at.IsZero() {
		at = h.now().UTC()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time":                  at.UTC().Format(time.RFC3339),
		"lat":                   loc.Lat,
		"lng":                   loc.Lng,
		"solar_altitude_deg":    solar.AltitudeDeg(loc.Lat, loc.Lng, at),
		"solar_declination_deg": solar.DeclinationDeg(at),
		"subsolar_lng":          solar.SubsolarLongitudeDeg(at),
		"is_daylight":           solar.IsDaylight(loc.Lat, loc.Lng, at),
	})
}

// GET /api/v1/catalog
func (h *handlers) catalogInfo(w http.ResponseWriter, r *http.Request) {
	ds := h.catalog.Get()
	if ds == nil {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false, "count": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":      true,
		"source":      ds.Source,
		"fetched_at":  ds.FetchedAt.UTC().Format(time.RFC3339),
		"age_seconds": h.catalog.AgeSeconds(),
		"epoch_range": ds.EpochRange,
		"count":       len(ds.Satellites),
	})
}

// POST /api/v1/catalog/reload
func (h *handlers) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":      "catalog fetch is disabled",
			"request_id": RequestID(r.Context()),
		})
		return
	}
	n, err := h.reload(r.Context())
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: %w", predict.ErrUpstream, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// GET /api/v1/cache/stats
func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// DELETE /api/v1/cache clears everything, one key (?key=) or one element
// set (?norad_id=).
func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		err     error
		cleared string
	)
	switch {
	case q.Get("norad_id") != "":
		id, convErr := strconv.Atoi(q.Get("norad_id"))
		if convErr != nil {
			writeError(w, r, h.logger, fmt.Errorf("%w: invalid norad_id", errBadRequest))
			return
		}
		err = h.cache.ClearTLE(r.Context(), id)
		cleared = "norad_id:" + strconv.Itoa(id)
	case q.Get("key") != "":
		err = h.cache.Clear(r.Context(), q.Get("key"))
		cleared = "key:" + q.Get("key")
	default:
		err = h.cache.ClearAll(r.Context())
		cleared = "all"
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("cache cleared", "component", "api", "scope", cleared, "request_id", RequestID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"cleared": cleared})
}
