package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultSourceURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle"

	// maxBodyBytes caps a single response body.
	maxBodyBytes = 50 << 20
)

// Fetcher retrieves raw element-set data from a remote provider.
type Fetcher struct {
	sourceURL  string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URL. Extra URLs are
// fetched after the primary and appended; their failures are only logged.
func NewFetcher(sourceURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if sourceURL == "" {
		sourceURL = defaultSourceURL
	}
	return &Fetcher{
		sourceURL: sourceURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURL returns the configured source URL.
func (f *Fetcher) SourceURL() string {
	return f.sourceURL
}

// Fetch performs an HTTP GET against the primary source and every extra URL.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra TLE source failed", "url", u, "error", err)
			continue
		}
		if len(body) > 0 && body[len(body)-1] != '\n' {
			body = append(body, '\n')
		}
		body = append(body, extra...)
	}

	return body, nil
}

// FetchRecords fetches and parses the configured sources.
func (f *Fetcher) FetchRecords(ctx context.Context) ([]Record, error) {
	data, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(data, f.logger)
}

// FetchByNoradID queries the provider for a single catalog number. The query
// replaces any GROUP selector on the base URL.
func (f *Fetcher) FetchByNoradID(ctx context.Context, noradID int) (Record, error) {
	u, err := url.Parse(f.sourceURL)
	if err != nil {
		return Record{}, fmt.Errorf("parsing source URL: %w", err)
	}
	q := u.Query()
	q.Del("GROUP")
	q.Set("CATNR", strconv.Itoa(noradID))
	q.Set("FORMAT", "tle")
	u.RawQuery = q.Encode()

	data, err := f.get(ctx, u.String())
	if err != nil {
		return Record{}, err
	}

	records, err := Parse(data, f.logger)
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.NORADID == noradID {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: NORAD %d", ErrNotFound, noradID)
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", target, maxBodyBytes)
	}

	// CelesTrak answers unknown catalog numbers with 200 and a plain message.
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", ErrNotFound, target)
	}

	return body, nil
}
