package tle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source is anything that can produce a fresh set of records.
type Source interface {
	FetchRecords(ctx context.Context) ([]Record, error)
	SourceURL() string
}

// Store provides thread-safe access to the current catalog dataset.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes refreshes
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
}

// Lookup finds a record by catalog number in the current dataset.
func (s *Store) Lookup(noradID int) (Record, bool) {
	return s.dataset.Load().Find(noradID)
}

// Count returns the number of records currently loaded.
func (s *Store) Count() int {
	ds := s.dataset.Load()
	if ds == nil {
		return 0
	}
	return len(ds.Satellites)
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	return time.Since(ds.FetchedAt).Seconds()
}

// Refresh pulls from src and swaps in the new dataset. An empty result keeps
// the previous dataset.
func (s *Store) Refresh(ctx context.Context, src Source) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := src.FetchRecords(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	s.Set(NewDataset(src.SourceURL(), time.Now().UTC(), records))
	return len(records), nil
}

// RunRefresher refreshes the store every interval until ctx is done.
// onRefresh, if non-nil, is called with the record count after each
// successful refresh.
func (s *Store) RunRefresher(ctx context.Context, src Source, interval time.Duration, logger *slog.Logger, onRefresh func(int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Refresh(ctx, src)
			if err != nil {
				logger.Warn("catalog refresh failed", "source", src.SourceURL(), "error", err)
				continue
			}
			logger.Info("catalog refreshed", "count", n)
			if onRefresh != nil && n > 0 {
				onRefresh(n)
			}
		}
	}
}
