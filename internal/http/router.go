// Package httpx serves the portal's operational endpoints.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splunk/learning-labs-portal/pkg/crypto"
)

// Pinger is a dependency whose reachability /healthz reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Router exposes /healthz and /metrics.
type Router struct {
	mux         chi.Router
	logger      *slog.Logger
	components  map[string]Pinger
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	metricsUser string
	metricsHash []byte

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// Option configures a Router.
type Option func(*Router)

// WithRegistry serves and records metrics on reg instead of the default
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Router) {
		r.registerer = reg
		r.gatherer = reg
	}
}

// WithMetricsAuth protects /metrics with basic auth. hash is a bcrypt hash of
// the password; an empty user or hash leaves the endpoint open.
func WithMetricsAuth(user, hash string) Option {
	return func(r *Router) {
		if user == "" || hash == "" {
			return
		}
		r.metricsUser = user
		r.metricsHash = []byte(hash)
	}
}

const healthCheckTimeout = 2 * time.Second

// New creates a Router reporting the given components on /healthz.
func New(logger *slog.Logger, components map[string]Pinger, opts ...Option) *Router {
	r := &Router{
		mux:        chi.NewRouter(),
		logger:     logger,
		components: components,
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.Use(middleware.Recoverer)
	metrics := promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
	r.mux.With(r.requireMetricsAuth).Method(http.MethodGet, "/metrics", metrics)
	r.mux.Get("/healthz", r.instrument("/healthz", r.handleHealth))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]any, len(names))
	for _, name := range names {
		component := map[string]any{"status": "up"}
		if err := r.components[name].Ping(ctx); err != nil {
			status = "degraded"
			component = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			r.logger.Warn("health check failed", "component", name, "error", err)
		}
		components[name] = component
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

func (r *Router) requireMetricsAuth(next http.Handler) http.Handler {
	if r.metricsUser == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != r.metricsUser || crypto.ComparePassword(r.metricsHash, pass) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			r.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}
