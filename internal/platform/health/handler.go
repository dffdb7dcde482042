// Package health serves the liveness, readiness and status checks.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Cooperation-org/claim-lexicon/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

// GaugeFunc reads one indexer figure for the status endpoint.
type GaugeFunc func() int64

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 2 * time.Second

// Handler serves the health endpoints.
type Handler struct {
	started      time.Time
	environment  string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
	gauges map[string]GaugeFunc
}

// New creates a handler for environment.
func New(environment string) *Handler {
	return &Handler{
		started:      time.Now(),
		environment:  environment,
		checkTimeout: DefaultCheckTimeout,
		checks:       make(map[string]CheckFunc),
		gauges:       make(map[string]GaugeFunc),
	}
}

// RegisterCheck adds a readiness check.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterGauge adds a figure to the status endpoint.
func (h *Handler) RegisterGauge(name string, gauge GaugeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gauges[name] = gauge
}

// Register mounts the health routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// LivenessResponse is the liveness body.
type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness answers 200 while the process runs.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// ReadinessResponse maps each check to "up" or "down: <reason>".
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every check concurrently and answers 503 if any fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	h.mu.RUnlock()

	results := make(map[string]string, len(checks))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			state := "up"
			if err := check(checkCtx); err != nil {
				state = "down: " + err.Error()
			}
			mu.Lock()
			results[name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := ReadinessResponse{Status: "ready", Checks: results}
	for _, state := range results {
		if state != "up" {
			resp.Status = "not_ready"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// StatusResponse is the status body.
type StatusResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Environment   string           `json:"environment"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Timestamp     string           `json:"timestamp"`
	Checks        []string         `json:"checks"`
	Gauges        map[string]int64 `json:"gauges,omitempty"`
}

// HandleStatus reports build, uptime and the registered gauges.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	names := slices.Sorted(maps.Keys(h.checks))
	gauges := make(map[string]int64, len(h.gauges))
	for name, g := range h.gauges {
		gauges[name] = g()
	}
	h.mu.RUnlock()

	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Checks:        names,
		Gauges:        gauges,
	})
}
