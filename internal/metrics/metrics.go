package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passwatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	httpLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_http_limited_total",
		Help: "Requests rejected by the per-client concurrency limit.",
	})

	propagationStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_propagation_steps_total",
			Help: "Propagation steps by outcome.",
		},
		[]string{"result"},
	)

	propagationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "passwatch_propagation_duration_seconds",
		Help:    "Duration of one propagation run over a search window.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	passesFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_passes_found_total",
		Help: "Passes returned after elevation and daylight filtering.",
	})

	prefilterDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_prefilter_decisions_total",
			Help: "Visibility pre-filter decisions.",
		},
		[]string{"decision"},
	)

	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_cache_hits_total",
			Help: "Element cache hits by bucket.",
		},
		[]string{"bucket"},
	)

	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_cache_misses_total",
			Help: "Element cache misses by bucket.",
		},
		[]string{"bucket"},
	)

	cacheStaleHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_cache_stale_hits_total",
		Help: "Expired entries served while the write limiter was exhausted.",
	})

	cacheDroppedWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_cache_dropped_writes_total",
		Help: "Cache writes dropped by the rate limiter.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_cache_evictions_total",
		Help: "Expired cache entries deleted on read or by the sweeper.",
	})

	workerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passwatch_worker_queue_depth",
		Help: "Requests waiting in the pass worker queue.",
	})

	workerPendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passwatch_worker_pending_requests",
		Help: "Requests awaiting a worker response.",
	})

	workerPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passwatch_worker_panics_total",
		Help: "Panics recovered inside the pass worker.",
	})

	tleDatasetCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passwatch_tle_dataset_count",
		Help: "Element sets in the current catalog.",
	})

	tleDatasetAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passwatch_tle_dataset_age_seconds",
		Help: "Seconds since the catalog was fetched.",
	})

	publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passwatch_publish_total",
			Help: "Pass result publications by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		httpLimitedTotal,
		propagationStepsTotal,
		propagationDurationSeconds,
		passesFoundTotal,
		prefilterDecisionsTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheStaleHitsTotal,
		cacheDroppedWritesTotal,
		cacheEvictionsTotal,
		workerQueueDepth,
		workerPendingRequests,
		workerPanicsTotal,
		tleDatasetCount,
		tleDatasetAgeSeconds,
		publishTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation records one propagation run.
func RecordPropagation(d time.Duration, ok, skipped int) {
	propagationDurationSeconds.Observe(d.Seconds())
	propagationStepsTotal.WithLabelValues("ok").Add(float64(ok))
	propagationStepsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func AddPassesFound(n int) { passesFoundTotal.Add(float64(n)) }

// IncPrefilter counts a pre-filter decision.
func IncPrefilter(accepted bool) {
	if accepted {
		prefilterDecisionsTotal.WithLabelValues("accept").Inc()
		return
	}
	prefilterDecisionsTotal.WithLabelValues("reject").Inc()
}

func IncCacheHits(bucket string) { cacheHitsTotal.WithLabelValues(bucket).Inc() }
func IncCacheMisses(bucket string) { cacheMissesTotal.WithLabelValues(bucket).Inc() }
func IncCacheStaleHits() { cacheStaleHitsTotal.Inc() }
func IncCacheDroppedWrites() { cacheDroppedWritesTotal.Inc() }
func AddCacheEvictions(n int) { cacheEvictionsTotal.Add(float64(n)) }

func SetWorkerQueueDepth(n int) { workerQueueDepth.Set(float64(n)) }
func SetWorkerPendingRequests(n int) { workerPendingRequests.Set(float64(n)) }
func IncWorkerPanics() { workerPanicsTotal.Inc() }

func SetTLEDatasetCount(n int) { tleDatasetCount.Set(float64(n)) }
func SetTLEDatasetAge(secs float64) { tleDatasetAgeSeconds.Set(secs) }
func IncHTTPLimited() { httpLimitedTotal.Inc() }

// IncPublish counts a publish attempt.
func IncPublish(err error) {
	if err != nil {
		publishTotal.WithLabelValues("error").Inc()
		return
	}
	publishTotal.WithLabelValues("ok").Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

var knownRoutes = map[string]bool{
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/passes":         true,
	"/api/v1/passes/search":  true,
	"/api/v1/visibility":     true,
	"/api/v1/catalog":        true,
	"/api/v1/cache":          true,
	"/api/v1/cache/stats":    true,
	"/api/v1/catalog/reload": true,
}

const passesPrefix = "/api/v1/passes/"

// normalizeRoute maps a request path to a bounded label set so scanners and
// per-object URLs cannot blow up metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, passesPrefix); ok && id != "" && isDigits(id) {
		return passesPrefix + "{norad_id}"
	}
	return "other"
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
