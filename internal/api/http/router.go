// Package apihttp wires the QubecTalk hosted execution service's HTTP
// surface: compile a program, start a run, and retrieve its result. It sits
// above internal/store for persistence and internal/worker for trial
// parallelism, and below internal/auth and internal/ratelimit for request
// gating.
package apihttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/example/qubectalk/internal/api/http/responders"
	"github.com/example/qubectalk/internal/auth"
	"github.com/example/qubectalk/internal/events"
	"github.com/example/qubectalk/internal/observability"
	"github.com/example/qubectalk/internal/ratelimit"
	"github.com/example/qubectalk/internal/store"
	"github.com/example/qubectalk/internal/worker"
)

// Deps are the collaborators NewRouter wires into the program/run handlers.
// Fields left nil disable the corresponding behavior (no rate limiting, no
// auth, no events) rather than panicking, so cmd/api can stand up a minimal
// router for local development.
type Deps struct {
	Store     store.Store
	Auth      *auth.Middleware
	Limiter   *ratelimit.RateLimiter
	TrialPool *worker.TrialPool
	Bus       events.Bus
	Metrics   *observability.PrometheusExporter

	Health      *observability.HealthCheckHandler
	Status      *observability.StatusHandler
	MetricsHTTP *observability.MetricsHandler

	// MaxTrialsPerRun rejects a run request whose compiled `simulate`
	// block asks for more trials than this, per simulation.
	MaxTrialsPerRun int

	// RunTimeout bounds how long POST /v1/programs/{id}/runs blocks
	// executing trials before the request is abandoned.
	RunTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the full HTTP handler: routes wrapped in authentication
// and rate limiting, in that order from the outside in, matching the
// teacher's convention of auth as the outermost request gate.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxTrialsPerRun <= 0 {
		deps.MaxTrialsPerRun = 10000
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 2 * time.Minute
	}

	h := &handlers{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/programs", h.createProgram)
	mux.HandleFunc("GET /v1/programs/{id}", h.getProgram)
	mux.HandleFunc("POST /v1/programs/{id}/runs", h.createRun)
	mux.HandleFunc("GET /v1/runs/{id}", h.getRunEnvelope)
	mux.HandleFunc("GET /v1/runs/{id}/rows.csv", h.getRunCSV)

	if deps.Health != nil {
		deps.Health.RegisterHealthRoutes(mux)
	}
	if deps.Status != nil {
		deps.Status.RegisterStatusRoutes(mux)
	}
	if deps.MetricsHTTP != nil {
		mux.Handle("GET /metrics", deps.MetricsHTTP.Handler())
	}

	var root http.Handler = mux
	root = h.rateLimited(root)
	if deps.Auth != nil {
		root = deps.Auth.Wrap(root)
	}
	return root
}

// rateLimited applies the per-caller token bucket ahead of routing, keyed
// by the authenticated caller ID when auth ran first, falling back to the
// remote address for unauthenticated deployments.
func (h *handlers) rateLimited(next http.Handler) http.Handler {
	if h.deps.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if caller, ok := auth.CallerFromContext(r.Context()); ok {
			key = caller.ID
		}
		if !h.deps.Limiter.Allow(r.Context(), key) {
			responders.RateLimited(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}
