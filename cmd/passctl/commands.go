package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/config"
	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/solar"
	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/visibility"
	"github.com/star/passwatch/internal/worker"
)

var passesCmd = &cobra.Command{
	Use:   "passes <norad_id>",
	Short: "Predict passes of one object over a location",
	Long: `
Predict passes of one catalog object. The element set comes from --tle-file
when given, otherwise from the configured provider.

Examples:
  passctl passes 25544 --lat 35.68 --lng 139.77
  passctl passes 25544 --lat 51.5 --lng -0.1 --hours 72 --daylight --tle-file stations.txt
`,
	Args: cobra.ExactArgs(1),
	RunE: runPasses,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find every catalog object with passes over a location",
	Long: `
Search a catalog for objects passing over a location. The catalog is read
from --tle-file, or fetched from the configured provider.
`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check the element sets in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var sunCmd = &cobra.Command{
	Use:   "sun",
	Short: "Show the solar position for a location and time",
	Args:  cobra.NoArgs,
	RunE:  runSun,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var (
	lat, lng     float64
	startFlag    string
	hours        float64
	minElevation float64
	daylight     bool
	tleFile      string
	noradIDs     []int
	timeFlag     string
)

func init() {
	for _, c := range []*cobra.Command{passesCmd, searchCmd} {
		c.Flags().Float64Var(&lat, "lat", 0, "observer latitude in degrees")
		c.Flags().Float64Var(&lng, "lng", 0, "observer longitude in degrees")
		c.Flags().StringVar(&startFlag, "start", "", "window start (RFC 3339, default now)")
		c.Flags().Float64Var(&hours, "hours", 24, "window length in hours")
		c.Flags().Float64Var(&minElevation, "min-el", 10, "minimum peak elevation in degrees")
		c.Flags().BoolVar(&daylight, "daylight", false, "keep only passes in daylight")
		c.Flags().StringVar(&tleFile, "tle-file", "", "read element sets from this file")
		_ = c.MarkFlagRequired("lat")
		_ = c.MarkFlagRequired("lng")
	}
	searchCmd.Flags().IntSliceVar(&noradIDs, "ids", nil, "restrict the search to these catalog numbers")

	sunCmd.Flags().Float64Var(&lat, "lat", 0, "observer latitude in degrees")
	sunCmd.Flags().Float64Var(&lng, "lng", 0, "observer longitude in degrees")
	sunCmd.Flags().StringVar(&timeFlag, "time", "", "instant (RFC 3339, default now)")

	rootCmd.AddCommand(passesCmd, searchCmd, validateCmd, sunCmd, configCmd)
}

// pipeline is the in-process equivalent of the server's prediction stack.
type pipeline struct {
	svc     *predict.Service
	catalog *tle.Store
	close   func()
}

func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	catalog := tle.NewStore()
	fetcher := tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraURLs...)

	if tleFile != "" {
		records, err := readRecords(tleFile, logger)
		if err != nil {
			return nil, err
		}
		catalog.Set(tle.NewDataset(tleFile, time.Now().UTC(), records))
	}

	var store cache.Store
	if cfg.Cache.Dir != "" {
		store = cache.NewFileStore(cfg.Cache.Dir)
	}
	ec := cache.New(cache.Config{
		MinTTL:      cfg.Cache.MinTTL,
		MinTLETTL:   cfg.Cache.MinTLETTL,
		RateWindow:  cfg.Cache.RateWindow,
		WriteBudget: cfg.Cache.WriteBudget,
	}, store, logger)

	prop := propagation.NewPropagator(nil, propagation.Config{
		Step:     cfg.Propagation.Step,
		MaxSteps: cfg.Propagation.MaxSteps,
	}, logger)
	task := worker.NewTask(prop, worker.TaskConfig{Workers: cfg.Worker.Workers, QueueSize: cfg.Worker.QueueSize}, logger)
	task.Start(ctx)
	client := worker.NewClient(task, logger)

	deps := predict.Deps{
		Cache:      ec,
		Catalog:    catalog,
		Calculator: client,
		PreFilter:  visibility.DefaultPreFilter(),
	}
	if tleFile == "" && cfg.TLE.EnableFetch {
		deps.Fetcher = fetcher
	}
	svc := predict.NewService(deps, predict.Config{
		TLETTL:            cfg.TLE.TTL,
		ResultTTL:         cfg.Cache.ResultTTL,
		SearchConcurrency: cfg.Worker.SearchConcurrency,
		MaxSearchResults:  cfg.Worker.MaxSearchResults,
		MaxWindow:         cfg.Propagation.MaxWindow,
	}, logger)

	return &pipeline{
		svc:     svc,
		catalog: catalog,
		close: func() {
			client.Close()
			task.Stop()
		},
	}, nil
}

func readRecords(path string, logger *slog.Logger) ([]tle.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening element sets: %w", err)
	}
	defer f.Close()
	return tle.ParseBatch(f, logger)
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func searchFilters() (propagation.SearchFilters, error) {
	start, err := parseInstant(startFlag)
	if err != nil {
		return propagation.SearchFilters{}, err
	}
	if hours <= 0 {
		return propagation.SearchFilters{}, fmt.Errorf("--hours must be positive, got %v", hours)
	}
	return propagation.SearchFilters{
		Start:            start,
		End:              start.Add(time.Duration(hours * float64(time.Hour))),
		MinElevationDeg:  minElevation,
		Location:         propagation.Location{Lat: lat, Lng: lng},
		ConsiderDaylight: daylight,
	}, nil
}

func runPasses(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid NORAD id %q", args[0])
	}
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	filters, err := searchFilters()
	if err != nil {
		return err
	}

	p, err := newPipeline(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	res, err := p.svc.PassesFor(cmd.Context(), id, filters)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	printResult(res)
	return nil
}

func runSearch(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	filters, err := searchFilters()
	if err != nil {
		return err
	}

	p, err := newPipeline(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	if tleFile == "" && len(noradIDs) == 0 {
		if !cfg.TLE.EnableFetch {
			return fmt.Errorf("no catalog: pass --tle-file or enable tle.enable_fetch")
		}
		fetcher := tle.NewFetcher(cfg.TLE.SourceURL, logger, cfg.TLE.ExtraURLs...)
		n, err := p.catalog.Refresh(cmd.Context(), fetcher)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		logger.Info("catalog loaded", "source", fetcher.SourceURL(), "count", n)
	}

	results, err := p.svc.Search(cmd.Context(), predict.SearchRequest{Filters: filters, NORADIDs: noradIDs})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(results)
	}
	fmt.Printf("%d objects with passes between %s and %s\n",
		len(results), filters.Start.Format(time.RFC3339), filters.End.Format(time.RFC3339))
	for _, r := range results {
		printResult(r)
	}
	return nil
}

func runValidate(_ *cobra.Command, args []string) error {
	// Skipped groups are reported through the logger.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	records, err := readRecords(args[0], logger)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(records)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NORAD\tNAME\tEPOCH\tINCL_DEG\tHEIGHT_KM")
	for _, r := range records {
		s, err := tle.Summarize(r)
		if err != nil {
			fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\n", r.NORADID, r.Name, r.Epoch.Format(time.RFC3339))
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.0f\n", r.NORADID, r.Name, r.Epoch.Format(time.RFC3339), s.InclinationDeg, s.HeightKm)
	}
	tw.Flush()
	fmt.Printf("%d valid element sets\n", len(records))
	if len(records) == 0 {
		return fmt.Errorf("no valid element sets in %s", args[0])
	}
	return nil
}

func runSun(_ *cobra.Command, _ []string) error {
	loc := propagation.Location{Lat: lat, Lng: lng}
	if err := loc.Validate(); err != nil {
		return err
	}
	at, err := parseInstant(timeFlag)
	if err != nil {
		return err
	}

	out := struct {
		Time        time.Time `json:"time"`
		Lat         float64   `json:"lat"`
		Lng         float64   `json:"lng"`
		Altitude    float64   `json:"solar_altitude_deg"`
		Declination float64   `json:"solar_declination_deg"`
		Subsolar    float64   `json:"subsolar_lng"`
		Daylight    bool      `json:"is_daylight"`
	}{
		Time:        at,
		Lat:         lat,
		Lng:         lng,
		Altitude:    solar.AltitudeDeg(lat, lng, at),
		Declination: solar.DeclinationDeg(at),
		Subsolar:    solar.SubsolarLongitudeDeg(at),
		Daylight:    solar.IsDaylight(lat, lng, at),
	}
	if jsonOutput {
		return printJSON(out)
	}
	fmt.Printf("time:         %s\n", out.Time.Format(time.RFC3339))
	fmt.Printf("altitude:     %.2f°\n", out.Altitude)
	fmt.Printf("declination:  %.2f°\n", out.Declination)
	fmt.Printf("subsolar lng: %.2f°\n", out.Subsolar)
	fmt.Printf("daylight:     %t\n", out.Daylight)
	return nil
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(newLogger())
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(r predict.Result) {
	switch {
	case r.Error != "":
		fmt.Printf("NORAD %d: ERROR %s\n", r.NORADID, r.Error)
		return
	case r.PreFiltered:
		fmt.Printf("NORAD %d %s: never above the horizon here\n", r.NORADID, r.Name)
		return
	}
	fmt.Printf("NORAD %d %s: %d passes\n", r.NORADID, r.Name, len(r.Passes))
	for j, p := range r.Passes {
		fmt.Printf("  pass %d: start=%s maxEl=%.1f° az=%.0f°→%.0f° dur=%.0fs daylight=%t\n",
			j, p.Start.Format(time.RFC3339), p.MaxElevationDeg, p.StartAzimuthDeg, p.EndAzimuthDeg,
			p.DurationSeconds, p.IsDaylight)
	}
}
