package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/health"
	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/visibility"
	"github.com/star/passwatch/internal/worker"
)

const (
	issLine1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	issLine2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

	polarLine1 = "1 33591U 09005A   25138.51401286  .00000091  00000+0  74512-4 0  9993"
	polarLine2 = "2 33591  99.0386 200.1234 0013741 164.7654 195.3925 14.13250987834121"

	// The ISS lines under Alpha-5 catalog number A5544 (105544).
	alphaLine1 = "1 A5544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2925"
	alphaLine2 = "2 A5544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563535"
)

// Tokyo, starting at the element-set epoch.
const tokyoQuery = "lat=35.6812&lng=139.7671&start=2008-09-20T12:25:40Z&end=2008-09-21T12:25:40Z&min_elevation=10"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// upstream answers single-object queries the way the provider does.
func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("CATNR") {
		case "33591":
			fmt.Fprintf(w, "NOAA 19\n%s\n%s\n", polarLine1, polarLine2)
		case "105544":
			fmt.Fprintf(w, "ALPHA\n%s\n%s\n", alphaLine1, alphaLine2)
		case "500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, "No GP data found\n")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	handler http.Handler
	cache   *cache.ElementCache
	catalog *tle.Store
}

func newTestEnv(t *testing.T, opts Options, reload func(context.Context) (int, error), ready ...health.Check) testEnv {
	t.Helper()
	logger := testLogger()

	iss, err := tle.NewRecord("ISS (ZARYA)", issLine1, issLine2)
	if err != nil {
		t.Fatal(err)
	}
	catalog := tle.NewStore()
	catalog.Set(tle.NewDataset("test", time.Now(), []tle.Record{iss}))

	prop := propagation.NewPropagator(nil, propagation.DefaultConfig(), logger)
	task := worker.NewTask(prop, worker.DefaultTaskConfig(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	task.Start(ctx)
	client := worker.NewClient(task, logger)
	t.Cleanup(func() {
		client.Close()
		task.Stop()
		cancel()
	})

	ec := cache.New(cache.DefaultConfig(), nil, logger)
	svc := predict.NewService(predict.Deps{
		Cache:      ec,
		Fetcher:    tle.NewFetcher(upstream(t).URL+"/gp.php?GROUP=stations&FORMAT=tle", logger),
		Catalog:    catalog,
		Calculator: client,
		PreFilter:  visibility.DefaultPreFilter(),
	}, predict.DefaultConfig(), logger)

	return testEnv{
		handler: NewHandler(opts, Deps{
			Service: svc,
			Cache:   ec,
			Catalog: catalog,
			Reload:  reload,
			Ready:   ready,
		}, logger),
		cache:   ec,
		catalog: catalog,
	}
}

func (e testEnv) do(method, target string, body any, header ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return m
}

func TestGetPasses(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	w := env.do(http.MethodGet, "/api/v1/passes/25544?"+tokyoQuery, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("missing request id: %v", err)
	}
	resp := decode(t, w)
	ps, _ := resp["passes"].([]any)
	if len(ps) == 0 {
		t.Fatalf("expected ISS passes over Tokyo, got %v", resp)
	}
	if resp["cached"] != false {
		t.Error("first answer marked cached")
	}

	w = env.do(http.MethodGet, "/api/v1/passes/25544?"+tokyoQuery, nil)
	if resp := decode(t, w); resp["cached"] != true {
		t.Error("second answer not served from cache")
	}
}

func TestGetPassesErrors(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing location", "/api/v1/passes/25544", http.StatusBadRequest},
		{"bad number", "/api/v1/passes/25544?lat=abc&lng=0", http.StatusBadRequest},
		{"bad time", "/api/v1/passes/25544?lat=0&lng=0&start=yesterday", http.StatusBadRequest},
		{"bad daylight", "/api/v1/passes/25544?lat=0&lng=0&daylight=maybe", http.StatusBadRequest},
		{"latitude range", "/api/v1/passes/25544?lat=95&lng=0", http.StatusBadRequest},
		{"reversed window", "/api/v1/passes/25544?lat=0&lng=0&start=2008-09-21T00:00:00Z&end=2008-09-20T00:00:00Z", http.StatusBadRequest},
		{"window too long", "/api/v1/passes/25544?lat=0&lng=0&start=2008-09-01T00:00:00Z&end=2008-10-01T00:00:00Z", http.StatusBadRequest},
		{"unknown object", "/api/v1/passes/404?lat=0&lng=0", http.StatusNotFound},
		{"provider failure", "/api/v1/passes/500?lat=0&lng=0", http.StatusBadGateway},
		{"non-numeric id", "/api/v1/passes/iss?lat=0&lng=0", http.StatusNotFound},
		{"element set SGP4 cannot seed", "/api/v1/passes/105544?lat=0&lng=0", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.target, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if resp := decode(t, w); resp["error"] == nil {
				t.Error("expected error field in response")
			}
		})
	}
}

func TestGetPassesFetchesFromProvider(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	w := env.do(http.MethodGet, "/api/v1/passes/33591?lat=60&lng=10&start=2025-05-18T00:00:00Z&end=2025-05-18T06:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["name"] != "NOAA 19" {
		t.Errorf("name = %v", resp["name"])
	}
	if _, ok := env.cache.GetCachedTLE(context.Background(), 33591); !ok {
		t.Error("fetched element set was not cached")
	}
}

func TestPostPasses(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	lat, lng := 35.6812, 139.7671
	start := time.Date(2008, 9, 20, 12, 25, 40, 0, time.UTC)

	body := map[string]any{
		"name": "ISS", "line1": issLine1, "line2": issLine2,
		"lat": lat, "lng": lng, "start": start, "end": start.Add(12 * time.Hour),
	}
	if w := env.do(http.MethodPost, "/api/v1/passes", body); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	body["line2"] = issLine2[:68] + "0"
	if w := env.do(http.MethodPost, "/api/v1/passes", body); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad checksum: status = %d, want 422", w.Code)
	}

	body["line1"], body["line2"] = alphaLine1, alphaLine2
	if w := env.do(http.MethodPost, "/api/v1/passes", body); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Alpha-5 record: status = %d, want 422: %s", w.Code, w.Body.String())
	}

	body["line1"], body["line2"] = issLine1, issLine2
	body["bogus"] = true
	if w := env.do(http.MethodPost, "/api/v1/passes", body); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	start := time.Date(2008, 9, 20, 12, 25, 40, 0, time.UTC)

	w := env.do(http.MethodPost, "/api/v1/passes/search", map[string]any{
		"lat": 35.6812, "lng": 139.7671,
		"start": start, "end": start.Add(24 * time.Hour),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["count"] != float64(1) {
		t.Errorf("count = %v", resp["count"])
	}

	w = env.do(http.MethodPost, "/api/v1/passes/search", map[string]any{"lng": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing lat: status = %d", w.Code)
	}
}

func TestVisibility(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	// Local noon in Greenwich at the June solstice.
	w := env.do(http.MethodGet, "/api/v1/visibility?lat=51.48&lng=0&time=2024-06-20T12:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["is_daylight"] != true {
		t.Errorf("is_daylight = %v", resp["is_daylight"])
	}
	if alt, _ := resp["solar_altitude_deg"].(float64); alt < 60 || alt > 63 {
		t.Errorf("solar altitude = %v, want ~62", alt)
	}

	if w := env.do(http.MethodGet, "/api/v1/visibility?lat=10", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing lng: status = %d", w.Code)
	}
}

func TestCatalogAndReload(t *testing.T) {
	calls := 0
	reload := func(context.Context) (int, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("provider down")
		}
		return 42, nil
	}
	env := newTestEnv(t, Options{Auth: auth.Config{Enabled: true, Token: "s3cret"}}, reload)

	w := env.do(http.MethodGet, "/api/v1/catalog", nil)
	resp := decode(t, w)
	if resp["loaded"] != true || resp["count"] != float64(1) {
		t.Errorf("catalog = %v", resp)
	}

	if w := env.do(http.MethodPost, "/api/v1/catalog/reload", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated reload: status = %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/v1/catalog/reload", nil, "Authorization", "Bearer s3cret")
	if w.Code != http.StatusOK || decode(t, w)["count"] != float64(42) {
		t.Errorf("reload: status = %d", w.Code)
	}
	w = env.do(http.MethodPost, "/api/v1/catalog/reload", nil, "Authorization", "Bearer s3cret")
	if w.Code != http.StatusBadGateway {
		t.Errorf("failing reload: status = %d, want 502", w.Code)
	}

	disabled := newTestEnv(t, Options{}, nil)
	if w := disabled.do(http.MethodPost, "/api/v1/catalog/reload", nil); w.Code != http.StatusConflict {
		t.Errorf("reload without fetcher: status = %d, want 409", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{Auth: auth.Config{Enabled: true, Token: "s3cret"}}, nil)
	ctx := context.Background()

	if w := env.do(http.MethodGet, "/api/v1/passes/25544?"+tokyoQuery, nil); w.Code != http.StatusOK {
		t.Fatalf("warming cache: %d", w.Code)
	}
	if _, ok := env.cache.GetCachedTLE(ctx, 25544); !ok {
		t.Fatal("element set not cached")
	}

	w := env.do(http.MethodGet, "/api/v1/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status = %d", w.Code)
	}
	if stats := decode(t, w); stats["write_budget"] != float64(60) {
		t.Errorf("stats = %v", stats)
	}

	if w := env.do(http.MethodDelete, "/api/v1/cache", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated delete: status = %d", w.Code)
	}
	bearer := []string{"Authorization", "Bearer s3cret"}

	w = env.do(http.MethodDelete, "/api/v1/cache?norad_id=25544", nil, bearer...)
	if w.Code != http.StatusOK {
		t.Fatalf("delete one: status = %d", w.Code)
	}
	if _, ok := env.cache.GetCachedTLE(ctx, 25544); ok {
		t.Error("element set survived targeted clear")
	}

	if w := env.do(http.MethodDelete, "/api/v1/cache?norad_id=x", nil, bearer...); w.Code != http.StatusBadRequest {
		t.Errorf("bad norad_id: status = %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/v1/cache", nil, bearer...); w.Code != http.StatusOK {
		t.Errorf("delete all: status = %d", w.Code)
	}
}

func TestRoutingAndProbes(t *testing.T) {
	notReady := errors.New("catalog not loaded")
	env := newTestEnv(t, Options{}, nil, func() error { return notReady })

	if w := env.do(http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d", w.Code)
	}
	if w := env.do(http.MethodPut, "/api/v1/visibility", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method = %d", w.Code)
	}
}

func TestRouterFallbacks(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/visibility", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/catalog", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/passes", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/catalog/reload", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodGet, "/api/v2/passes", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := env.do(tt.method, tt.target, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			resp := decode(t, w)
			if resp["error"] == nil || resp["request_id"] == nil {
				t.Errorf("body = %v, want error and request_id", resp)
			}
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	id := uuid.NewString()
	w := env.do(http.MethodGet, "/healthz", nil, RequestIDHeader, id)
	if got := w.Header().Get(RequestIDHeader); got != id {
		t.Errorf("request id = %q, want inbound %q", got, id)
	}

	w = env.do(http.MethodGet, "/api/v1/passes/25544", nil, RequestIDHeader, "not-a-uuid")
	got := w.Header().Get(RequestIDHeader)
	if got == "not-a-uuid" || !strings.Contains(w.Body.String(), got) {
		t.Errorf("malformed inbound id not replaced or not echoed: %q", got)
	}
}
