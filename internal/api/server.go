// Package api exposes pass prediction over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/cache"
	"github.com/star/passwatch/internal/health"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/tle"
)

// maxConcurrentTotal caps pass computations across all clients.
const maxConcurrentTotal = 256

// Options configures the HTTP layer.
type Options struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	TrustProxy         bool
	MaxConcurrentPerIP int
	Auth               auth.Config
}

// Deps are the services behind the routes. Reload may be nil when catalog
// fetching is disabled.
type Deps struct {
	Service *predict.Service
	Cache   *cache.ElementCache
	Catalog *tle.Store
	Reload  func(ctx context.Context) (int, error)
	Ready   []health.Check
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(opts Options, deps Deps, logger *slog.Logger) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewHandler(opts, deps, logger),
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain:
// metrics -> request id -> logging -> router.
func NewHandler(opts Options, deps Deps, logger *slog.Logger) http.Handler {
	if opts.MaxConcurrentPerIP <= 0 {
		opts.MaxConcurrentPerIP = 8
	}
	h := &handlers{
		svc:     deps.Service,
		cache:   deps.Cache,
		catalog: deps.Catalog,
		reload:  deps.Reload,
		logger:  logger,
		now:     time.Now,
	}
	requireAuth := auth.Require(opts.Auth)
	limited := newIPLimiter(opts.MaxConcurrentPerIP, maxConcurrentTotal).middleware(opts.TrustProxy)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.Readyz(deps.Ready...)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/passes", limited(http.HandlerFunc(h.postPasses))).Methods(http.MethodPost)
	v1.Handle("/passes/search", limited(http.HandlerFunc(h.search))).Methods(http.MethodPost)
	v1.Handle("/passes/{norad_id:[0-9]+}", limited(http.HandlerFunc(h.getPasses))).Methods(http.MethodGet)
	v1.HandleFunc("/visibility", h.visibility).Methods(http.MethodGet)
	v1.HandleFunc("/catalog", h.catalogInfo).Methods(http.MethodGet)
	v1.Handle("/catalog/reload", requireAuth(http.HandlerFunc(h.reloadCatalog))).Methods(http.MethodPost)
	v1.HandleFunc("/cache/stats", h.cacheStats).Methods(http.MethodGet)
	v1.Handle("/cache", requireAuth(http.HandlerFunc(h.clearCache))).Methods(http.MethodDelete)

	// Subrouters do not inherit the root fallbacks.
	for _, router := range []*mux.Router{r, v1} {
		router.NotFoundHandler = http.HandlerFunc(notFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}

	var handler http.Handler = r
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware keeps a well-formed inbound X-Request-ID and mints a
// UUID otherwise.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
