// Package handlers contains the HTTP handlers and middleware of the
// operational endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// CheckFunc performs a single readiness check and returns an error if the
// dependency is unusable.
type CheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	Healthy        bool                   `json:"healthy"`
	Ready          bool                   `json:"ready"`
	Checks         map[string]CheckResult `json:"checks,omitempty"`
	ActiveSessions int                    `json:"active_sessions"`
	Uptime         string                 `json:"uptime"`
	Timestamp      time.Time              `json:"timestamp"`
	Version        string                 `json:"version,omitempty"`
	Bot            any                    `json:"bot,omitempty"`
	Jobs           any                    `json:"jobs,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// HealthConfig wires the health handler to the running process.
type HealthConfig struct {
	Version string

	// Timeout bounds each readiness check.
	Timeout time.Duration

	// ActiveSessions reports how many timed sessions are live.
	ActiveSessions func() int

	// BotStats returns the bot's request counters.
	BotStats func() any

	// JobStats returns the background jobs and their last runs.
	JobStats func() any

	Now func() time.Time
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	cfg     HealthConfig
	started time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthHandler creates a handler with no readiness checks.
func NewHealthHandler(cfg HealthConfig) *HealthHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &HealthHandler{
		cfg:     cfg,
		started: cfg.Now(),
		checks:  make(map[string]CheckFunc),
	}
}

// AddCheck registers a named readiness check.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Names lists the registered checks.
func (h *HealthHandler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Live answers GET /health. It never touches dependencies.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	status := h.base()
	status.Healthy = true
	status.Ready = true
	WriteJSON(w, http.StatusOK, status)
}

// Ready answers GET /ready by running every check concurrently.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.base()
	status.Healthy = true
	status.Checks = h.run(r.Context())

	status.Ready = true
	for _, res := range status.Checks {
		if !res.Healthy {
			status.Ready = false
		}
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) base() HealthStatus {
	now := h.cfg.Now()
	status := HealthStatus{
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Timestamp: now.UTC(),
		Version:   h.cfg.Version,
	}
	if h.cfg.ActiveSessions != nil {
		status.ActiveSessions = h.cfg.ActiveSessions()
	}
	if h.cfg.BotStats != nil {
		status.Bot = h.cfg.BotStats()
	}
	if h.cfg.JobStats != nil {
		status.Jobs = h.cfg.JobStats()
	}
	return status
}

func (h *HealthHandler) run(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
			defer cancel()

			start := time.Now()
			err := check(cctx)
			res := CheckResult{Healthy: err == nil, Duration: time.Since(start).String()}
			if err != nil {
				res.Message = err.Error()
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorBody.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg, RequestID: RequestIDFrom(r.Context())})
}
