package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status response
type Status struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check reports whether a dependency is ready
type Check func() bool

// Handler handles health check endpoints
type Handler struct {
	mu          sync.RWMutex
	checks      map[string]Check
	startTime   time.Time
	startupWait time.Duration
	now         func() time.Time
}

// NewHandler creates a health handler that reports not ready until
// startupWait has passed
func NewHandler(startupWait time.Duration) *Handler {
	return &Handler{
		checks:      make(map[string]Check),
		startTime:   time.Now(),
		startupWait: startupWait,
		now:         time.Now,
	}
}

// AddCheck registers a named readiness check
func (h *Handler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetReady registers a check with a fixed result, e.g. after a component
// finished starting
func (h *Handler) SetReady(name string, ready bool) {
	h.AddCheck(name, func() bool { return ready })
}

// HandleLive handles the liveness probe
// Returns 200 if the application is running
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Status:    "alive",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Uptime:    h.now().Sub(h.startTime).Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// HandleReady handles the readiness probe
// Returns 200 if the application is ready to serve traffic
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	allHealthy := true

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if h.checks[name]() {
			checks[name] = "healthy"
		} else {
			checks[name] = "not_ready"
			allHealthy = false
		}
	}
	h.mu.RUnlock()

	if h.now().Sub(h.startTime) >= h.startupWait {
		checks["startup"] = "complete"
	} else {
		checks["startup"] = "in_progress"
		allHealthy = false
	}

	status := Status{
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

// HandleHealth handles the combined health endpoint (for Docker HEALTHCHECK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.HandleReady(w, r)
}
