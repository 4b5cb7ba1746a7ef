package predict

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/visibility"
)

const (
	issLine1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	issLine2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"

	polarLine1 = "1 33591U 09005A   25138.51401286  .00000091  00000+0  74512-4 0  9993"
	polarLine2 = "2 33591  99.0386 200.1234 0013741 164.7654 195.3925 14.13250987834121"

	geoLine1 = "1 41866U 16071A   25138.50000000 -.00000096  00000+0  00000+0 0  9998"
	geoLine2 = "2 41866   0.0312 270.1234 0001234 100.0000 200.0000  1.00271234 30008"

	// ISS elements under Alpha-5 catalog number A5544 (105544).
	alphaLine1 = "1 A5544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9992"
	alphaLine2 = "2 A5544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510531"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mustRecord(t *testing.T, name, l1, l2 string) tle.Record {
	t.Helper()
	rec, err := tle.NewRecord(name, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

type fakeLookup struct {
	records map[int]tle.Record
	err     error
	calls   atomic.Int32
}

func (f *fakeLookup) FetchByNoradID(_ context.Context, id int) (tle.Record, error) {
	f.calls.Add(1)
	if f.err != nil {
		return tle.Record{}, f.err
	}
	rec, ok := f.records[id]
	if !ok {
		return tle.Record{}, tle.ErrNotFound
	}
	return rec, nil
}

// fakeCalculator returns one pass starting an hour into every window.
type fakeCalculator struct {
	mu    sync.Mutex
	calls map[int]int
}

func (f *fakeCalculator) CalculatePasses(_ context.Context, rec tle.Record, _ propagation.Location, filters propagation.SearchFilters) ([]passes.Pass, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[int]int)
	}
	f.calls[rec.NORADID]++
	f.mu.Unlock()

	start := filters.Start.Add(time.Hour)
	return []passes.Pass{{Start: start, End: start.Add(5 * time.Minute), MaxElevationDeg: 42}}, nil
}

func (f *fakeCalculator) count(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) Publish(_ context.Context, key string, _ any) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	svc     *Service
	lookup  *fakeLookup
	calc    *fakeCalculator
	pub     *fakePublisher
	catalog *tle.Store
}

func newFixture(t *testing.T, catalog ...tle.Record) fixture {
	t.Helper()
	f := fixture{
		lookup: &fakeLookup{records: map[int]tle.Record{
			25544: mustRecord(t, "ISS (ZARYA)", issLine1, issLine2),
		}},
		calc:    &fakeCalculator{},
		pub:     &fakePublisher{},
		catalog: tle.NewStore(),
	}
	if len(catalog) > 0 {
		f.catalog.Set(tle.NewDataset("test", time.Now(), catalog))
	}
	f.svc = NewService(Deps{
		Cache:      cache.New(cache.DefaultConfig(), nil, testLogger()),
		Fetcher:    f.lookup,
		Catalog:    f.catalog,
		Calculator: f.calc,
		PreFilter:  visibility.DefaultPreFilter(),
		Publisher:  f.pub,
	}, DefaultConfig(), testLogger())
	return f
}

func filtersAt(lat, lng float64) propagation.SearchFilters {
	start := time.Date(2025, 5, 18, 0, 0, 0, 0, time.UTC)
	return propagation.SearchFilters{
		Start:           start,
		End:             start.Add(24 * time.Hour),
		MinElevationDeg: 10,
		Location:        propagation.Location{Lat: lat, Lng: lng},
	}
}

func TestPassesForCachesTLEAndResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	filters := filtersAt(35.68, 139.77)

	res, err := f.svc.PassesFor(ctx, 25544, filters)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached || res.PreFiltered || len(res.Passes) != 1 || res.Name != "ISS (ZARYA)" {
		t.Fatalf("first result = %+v", res)
	}

	res, err = f.svc.PassesFor(ctx, 25544, filters)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || len(res.Passes) != 1 {
		t.Errorf("second result = %+v, want cached", res)
	}
	if n := f.calc.count(25544); n != 1 {
		t.Errorf("calculator called %d times, want 1", n)
	}

	// A new window reuses the cached element set.
	later := filters
	later.Start = later.Start.Add(24 * time.Hour)
	later.End = later.End.Add(24 * time.Hour)
	if _, err := f.svc.PassesFor(ctx, 25544, later); err != nil {
		t.Fatal(err)
	}
	if n := f.lookup.calls.Load(); n != 1 {
		t.Errorf("provider fetched %d times, want 1", n)
	}
	if len(f.pub.keys) != 2 || f.pub.keys[0] != "25544" {
		t.Errorf("published keys = %v", f.pub.keys)
	}
}

func TestPassesForPrefersCatalog(t *testing.T) {
	f := newFixture(t, mustRecord(t, "NOAA 19", polarLine1, polarLine2))

	res, err := f.svc.PassesFor(context.Background(), 33591, filtersAt(60, 10))
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "NOAA 19" {
		t.Errorf("name = %q", res.Name)
	}
	if f.lookup.calls.Load() != 0 {
		t.Error("provider consulted although the catalog had the object")
	}
}

func TestPassesForErrors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	if _, err := f.svc.PassesFor(ctx, 99999, filtersAt(0, 0)); !errors.Is(err, tle.ErrNotFound) {
		t.Errorf("unknown id: %v", err)
	}

	f.lookup.err = errors.New("connection refused")
	_, err := f.svc.PassesFor(ctx, 25544, filtersAt(0, 0))
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("provider failure: %v", err)
	}

	bad := filtersAt(0, 0)
	bad.End = bad.Start.Add(-time.Hour)
	if _, err := f.svc.PassesFor(ctx, 25544, bad); !errors.Is(err, propagation.ErrInvalidWindow) {
		t.Errorf("reversed window: %v", err)
	}

	off := filtersAt(95, 0)
	if _, err := f.svc.PassesFor(ctx, 25544, off); !errors.Is(err, propagation.ErrInvalidLocation) {
		t.Errorf("bad latitude: %v", err)
	}

	long := filtersAt(0, 0)
	long.End = long.Start.Add(30 * 24 * time.Hour)
	if _, err := f.svc.PassesFor(ctx, 25544, long); !errors.Is(err, propagation.ErrTooManySteps) {
		t.Errorf("oversized window: %v", err)
	}
}

func TestPassesForRecordRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	rec := mustRecord(t, "ISS", issLine1, issLine2)
	rec.Line2 = issLine2[:68] + "0"

	if _, err := f.svc.PassesForRecord(context.Background(), rec, filtersAt(0, 0)); !errors.Is(err, tle.ErrInvalidChecksum) {
		t.Errorf("got %v, want ErrInvalidChecksum", err)
	}
	if f.calc.count(25544) != 0 {
		t.Error("malformed record reached the calculator")
	}
}

func TestPassesForRecordRejectsUnseedable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := mustRecord(t, "ALPHA", alphaLine1, alphaLine2)

	if _, err := f.svc.PassesForRecord(ctx, rec, filtersAt(0, 0)); !errors.Is(err, propagation.ErrMechanicsInit) {
		t.Fatalf("got %v, want ErrMechanicsInit", err)
	}

	f.lookup.records[rec.NORADID] = rec
	for i := 0; i < 2; i++ {
		res, err := f.svc.PassesFor(ctx, rec.NORADID, filtersAt(0, 0))
		if !errors.Is(err, propagation.ErrMechanicsInit) {
			t.Fatalf("PassesFor call %d: got %+v, %v; want ErrMechanicsInit", i, res, err)
		}
	}
	if n := f.calc.count(rec.NORADID); n != 0 {
		t.Errorf("calculator called %d times", n)
	}
	if len(f.pub.keys) != 0 {
		t.Errorf("published %v", f.pub.keys)
	}
}

func TestPassesForRecordPreFilter(t *testing.T) {
	f := newFixture(t)
	geo := mustRecord(t, "GEO", geoLine1, geoLine2)

	res, err := f.svc.PassesForRecord(context.Background(), geo, filtersAt(80, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !res.PreFiltered || len(res.Passes) != 0 || res.Passes == nil {
		t.Errorf("result = %+v, want pre-filtered with empty passes", res)
	}
	if f.calc.count(41866) != 0 {
		t.Error("pre-filtered object was propagated")
	}
}

func TestSearchCatalog(t *testing.T) {
	f := newFixture(t,
		mustRecord(t, "ISS", issLine1, issLine2),
		mustRecord(t, "NOAA 19", polarLine1, polarLine2),
		mustRecord(t, "GEO", geoLine1, geoLine2),
	)

	// At 80°N only the retrograde polar orbit can be seen.
	results, err := f.svc.Search(context.Background(), SearchRequest{Filters: filtersAt(80, 20)})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].NORADID != 33591 {
		t.Fatalf("results = %+v", results)
	}
	if f.calc.count(25544) != 0 || f.calc.count(41866) != 0 {
		t.Error("rejected candidates were propagated")
	}

	// Near the equator all three qualify.
	results, err = f.svc.Search(context.Background(), SearchRequest{Filters: filtersAt(5, 20)})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}

func TestSearchByIDs(t *testing.T) {
	f := newFixture(t)

	results, err := f.svc.Search(context.Background(), SearchRequest{
		Filters:  filtersAt(35.68, 139.77),
		NORADIDs: []int{25544, 25544, 424242},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].NORADID != 25544 || len(results[0].Passes) != 1 {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].NORADID != 424242 || results[1].Error == "" {
		t.Errorf("unknown id result = %+v", results[1])
	}
}

func TestSearchWithoutCatalog(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Search(context.Background(), SearchRequest{Filters: filtersAt(0, 0)}); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("got %v, want ErrNoCatalog", err)
	}
}
