// Package cache holds element sets and derived results with TTL expiry, a
// per-window write budget and a background sweeper.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/tle"
)

// Config tunes an ElementCache.
type Config struct {
	MinTTL        time.Duration // floor for generic entries
	MinTLETTL     time.Duration // floor for element sets
	RateWindow    time.Duration
	WriteBudget   int // writes admitted per RateWindow
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinTTL:        0,
		MinTLETTL:     24 * time.Hour,
		RateWindow:    time.Hour,
		WriteBudget:   60,
		SweepInterval: 12 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTTL < 0 {
		c.MinTTL = 0
	}
	if c.MinTLETTL <= 0 {
		c.MinTLETTL = d.MinTLETTL
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.WriteBudget <= 0 {
		c.WriteBudget = d.WriteBudget
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// Item is the stored envelope around a cached value.
type Item struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (it Item) ttl() time.Duration {
	return it.ExpiresAt.Sub(it.CreatedAt)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          int64           `json:"hits"`
	Misses        int64           `json:"misses"`
	StaleHits     int64           `json:"stale_hits"`
	Evictions     int64           `json:"evictions"`
	DroppedWrites int64           `json:"dropped_writes"`
	Writes        RateLimitWindow `json:"write_window"`
	WriteBudget   int             `json:"write_budget"`
}

// Option configures an ElementCache.
type Option func(*ElementCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ElementCache) { c.now = now }
}

// ElementCache caches element sets by NORAD ID and arbitrary JSON values by
// key. Reads never fail: storage and decode errors degrade to misses.
type ElementCache struct {
	cfg     Config
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	limiter *writeLimiter

	hits          atomic.Int64
	misses        atomic.Int64
	staleHits     atomic.Int64
	evictions     atomic.Int64
	droppedWrites atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates an ElementCache over store. A nil store means in-memory.
func New(cfg Config, store Store, logger *slog.Logger, opts ...Option) *ElementCache {
	cfg = cfg.withDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	c := &ElementCache{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		now:     time.Now,
		limiter: newWriteLimiter(cfg.WriteBudget, cfg.RateWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *ElementCache) Config() Config {
	return c.cfg
}

// Get decodes the generic entry stored under key into T.
func Get[T any](ctx context.Context, c *ElementCache, key string) (T, bool) {
	var zero T
	it, ok := c.load(ctx, BucketGeneric, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(it.Data, &v); err != nil {
		c.logger.Warn("cache: decoding value", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Set stores data under key for at least MinTTL. Writes beyond the window
// budget are dropped with a warning and a nil error.
func (c *ElementCache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	return c.write(ctx, BucketGeneric, key, data, max(ttl, c.cfg.MinTTL))
}

// CacheTLE stores rec under its NORAD ID for at least MinTLETTL.
func (c *ElementCache) CacheTLE(ctx context.Context, noradID int, rec tle.Record, ttl time.Duration) error {
	if err := tle.Validate(rec.Line1, rec.Line2); err != nil {
		return fmt.Errorf("caching element set %d: %w", noradID, err)
	}
	return c.write(ctx, BucketTLE, tleKey(noradID), rec, max(ttl, c.cfg.MinTLETTL))
}

// GetCachedTLE returns the element set cached for noradID. Entries whose
// lines no longer validate are removed and reported as misses.
func (c *ElementCache) GetCachedTLE(ctx context.Context, noradID int) (tle.Record, bool) {
	key := tleKey(noradID)
	it, ok := c.load(ctx, BucketTLE, key)
	if !ok {
		return tle.Record{}, false
	}
	var rec tle.Record
	if err := json.Unmarshal(it.Data, &rec); err != nil || !tle.Valid(rec.Line1, rec.Line2) {
		c.logger.Warn("cache: dropping unusable element set", "norad_id", noradID)
		c.remove(ctx, BucketTLE, key)
		return tle.Record{}, false
	}
	return rec, true
}

// Clear removes key from every bucket.
func (c *ElementCache) Clear(ctx context.Context, key string) error {
	var errs []error
	for _, b := range Buckets {
		if err := c.store.Delete(ctx, b, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearTLE removes the element set cached for noradID.
func (c *ElementCache) ClearTLE(ctx context.Context, noradID int) error {
	return c.store.Delete(ctx, BucketTLE, tleKey(noradID))
}

// ClearAll empties every bucket.
func (c *ElementCache) ClearAll(ctx context.Context) error {
	var errs []error
	for _, b := range Buckets {
		if err := c.store.Clear(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (c *ElementCache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		StaleHits:     c.staleHits.Load(),
		Evictions:     c.evictions.Load(),
		DroppedWrites: c.droppedWrites.Load(),
		Writes:        c.limiter.snapshot(),
		WriteBudget:   c.cfg.WriteBudget,
	}
}

func tleKey(noradID int) string {
	return strconv.Itoa(noradID)
}

func (c *ElementCache) write(ctx context.Context, bucket Bucket, key string, data any, ttl time.Duration) error {
	now := c.now()
	if !c.limiter.allow(now) {
		c.droppedWrites.Add(1)
		metrics.IncCacheDroppedWrites()
		c.logger.Warn("cache: write budget exhausted, dropping write",
			"bucket", bucket, "key", key, "budget", c.cfg.WriteBudget, "window", c.cfg.RateWindow)
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding cache value %q: %w", key, err)
	}
	env, err := json.Marshal(Item{Data: raw, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("encoding cache item %q: %w", key, err)
	}
	if err := c.store.Put(ctx, bucket, key, env); err != nil {
		c.logger.Warn("cache: write failed", "bucket", bucket, "key", key, "error", err)
		return fmt.Errorf("storing cache item %q: %w", key, err)
	}
	return nil
}

// servable reports whether an item may be returned at now, and whether it is
// being returned past expiry. Expired items stay readable for twice their TTL
// while the write budget is exhausted, since they could not be refreshed.
func (c *ElementCache) servable(it Item, now time.Time) (ok, stale bool) {
	if !now.After(it.ExpiresAt) {
		return true, false
	}
	if now.Sub(it.CreatedAt) <= 2*it.ttl() && c.limiter.exhausted(now) {
		return true, true
	}
	return false, false
}

func (c *ElementCache) load(ctx context.Context, bucket Bucket, key string) (Item, bool) {
	raw, err := c.store.Get(ctx, bucket, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache: read failed", "bucket", bucket, "key", key, "error", err)
		}
		c.miss(bucket)
		return Item{}, false
	}

	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		c.logger.Warn("cache: corrupt item", "bucket", bucket, "key", key, "error", err)
		c.remove(ctx, bucket, key)
		c.miss(bucket)
		return Item{}, false
	}

	ok, stale := c.servable(it, c.now())
	if !ok {
		c.remove(ctx, bucket, key)
		c.miss(bucket)
		return Item{}, false
	}
	if stale {
		c.staleHits.Add(1)
		metrics.IncCacheStaleHits()
	}
	c.hits.Add(1)
	metrics.IncCacheHits(string(bucket))
	return it, true
}

func (c *ElementCache) miss(bucket Bucket) {
	c.misses.Add(1)
	metrics.IncCacheMisses(string(bucket))
}

func (c *ElementCache) remove(ctx context.Context, bucket Bucket, key string) {
	if err := c.store.Delete(ctx, bucket, key); err != nil {
		c.logger.Warn("cache: delete failed", "bucket", bucket, "key", key, "error", err)
		return
	}
	c.evictions.Add(1)
	metrics.AddCacheEvictions(1)
}
