package agent

import (
	"context"
	"sort"
	"sync"

	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
)

// Managed is anything with the runtime lifecycle contract
type Managed interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() Health
}

// Registry tracks every managed agent by name
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Managed
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Managed)}
}

// Register adds an agent; names must be unique
func (r *Registry) Register(a Managed) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; exists {
		return errors.Wrapf(errors.ErrDuplicate, "agent %s already registered", name)
	}
	r.agents[name] = a
	r.order = append(r.order, name)
	return nil
}

// Get returns an agent by name
func (r *Registry) Get(name string) (Managed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns agents in registration order
func (r *Registry) List() []Managed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Managed, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// AllHealth returns a snapshot per agent, keyed by name
func (r *Registry) AllHealth() map[string]Health {
	agents := r.List()
	out := make(map[string]Health, len(agents))
	for _, a := range agents {
		out[a.Name()] = a.Health()
	}
	return out
}

// Unhealthy lists agents whose status is not healthy, sorted by name
func (r *Registry) Unhealthy() []string {
	var names []string
	for name, h := range r.AllHealth() {
		if h.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AgentStatuses implements metrics.HealthSource
func (r *Registry) AgentStatuses() []metrics.AgentStatus {
	agents := r.List()
	out := make([]metrics.AgentStatus, 0, len(agents))
	for _, a := range agents {
		h := a.Health()
		out = append(out, metrics.AgentStatus{
			Name:              h.Name,
			Status:            string(h.Status),
			ConsecutiveErrors: h.ConsecutiveErrors,
		})
	}
	return out
}

// Count returns the number of registered agents
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
