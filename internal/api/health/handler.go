package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"tradecore/internal/agent"
	"tradecore/pkg/logger"
)

// Check probes one dependency; nil means healthy
type Check func(ctx context.Context) error

// AgentSource reports per-agent health
type AgentSource interface {
	AllHealth() map[string]agent.Health
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	agents      AgentSource
	startTime   time.Time
	serviceName string
	version     string

	mu     sync.RWMutex
	checks map[string]Check
}

func New(log *logger.Logger, agents AgentSource, serviceName, version string) *Handler {
	return &Handler{
		log:         log,
		agents:      agents,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
		checks:      make(map[string]Check),
	}
}

// AddCheck registers a named dependency probe
func (h *Handler) AddCheck(name string, check Check) *Handler {
	h.mu.Lock()
	h.checks[name] = check
	h.mu.Unlock()
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
	Agents    map[string]agent.Health    `json:"agents,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if the process is serving requests
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness is ready when every dependency answers and no agent has fail-stopped
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.evaluate(ctx)
	code := http.StatusOK
	if status.Status == "unhealthy" || h.failedChecks(status) > 0 {
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "status", status.Status)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns the detailed report. Degraded still answers 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.evaluate(ctx)
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Status computes the report without an HTTP round trip
func (h *Handler) Status(ctx context.Context) HealthStatus {
	return h.evaluate(ctx)
}

func (h *Handler) evaluate(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(names)),
	}

	healthy := 0
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		c := h.run(ctx, name, check)
		status.Checks[name] = c
		if c.Status == "healthy" {
			healthy++
		}
	}

	stopped, degraded := 0, 0
	if h.agents != nil {
		status.Agents = h.agents.AllHealth()
		for _, a := range status.Agents {
			switch a.Status {
			case agent.StatusStopped:
				stopped++
			case agent.StatusDegraded:
				degraded++
			}
		}
	}

	switch {
	case stopped > 0 || (len(names) > 0 && healthy == 0):
		status.Status = "unhealthy"
	case healthy < len(names) || degraded > 0:
		status.Status = "degraded"
	}
	return status
}

func (h *Handler) failedChecks(s HealthStatus) int {
	n := 0
	for _, c := range s.Checks {
		if c.Status != "healthy" {
			n++
		}
	}
	return n
}

func (h *Handler) run(ctx context.Context, name string, check Check) ComponentHealth {
	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "check", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
