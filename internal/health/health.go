// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Checker is one component's health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// checkTimeout bounds each component probe.
const checkTimeout = 3 * time.Second

// Cached wraps a checker so probes against an expensive dependency are
// reused for ttl instead of hitting it on every scrape.
func Cached(c Checker, ttl time.Duration) Checker {
	cc := &cachedChecker{inner: c, ttl: ttl, now: time.Now}
	return cc
}

type cachedChecker struct {
	inner Checker
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	last    time.Time
	lastErr error
}

func (c *cachedChecker) Name() string { return c.inner.Name() }

func (c *cachedChecker) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.IsZero() && c.now().Sub(c.last) < c.ttl {
		return c.lastErr
	}
	c.lastErr = c.inner.Check(ctx)
	c.last = c.now()
	return c.lastErr
}

// Handler aggregates component checks behind the probe endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	log      *zap.Logger
	started  time.Time
}

// NewHandler creates the health handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{log: logger, started: time.Now()}
}

// Register adds a component check.
func (h *Handler) Register(c Checker) {
	h.mu.Lock()
	h.checkers = append(h.checkers, c)
	h.mu.Unlock()
}

// RegisterRoutes attaches probe endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/live", h.handleLive)
	mux.HandleFunc("GET /health/ready", h.handleReady)
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) runChecks(ctx context.Context) (map[string]componentStatus, bool) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	out := make(map[string]componentStatus, len(checkers))
	healthy := true
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			healthy = false
			out[c.Name()] = componentStatus{Status: "unhealthy", Error: err.Error()}
			h.log.Warn("Health check failed",
				zap.String("component", c.Name()),
				zap.Error(err),
			)
		} else {
			out[c.Name()] = componentStatus{Status: "healthy"}
		}
	}
	return out, healthy
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	components, healthy := h.runChecks(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        status,
		"components":    components,
		"uptimeSeconds": int(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	_, healthy := h.runChecks(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
