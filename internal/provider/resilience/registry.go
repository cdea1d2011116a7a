package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health status values reported for an upstream.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ProviderHealth is a point-in-time view of one upstream client.
type ProviderHealth struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	LastSuccessAt *time.Time
	LastFailureAt *time.Time

	// LastError is the most recent failure message. It never carries a
	// request URL.
	LastError string
}

// Status maps the circuit state to healthy, degraded or unhealthy.
func (h *ProviderHealth) Status() string {
	switch h.CircuitState {
	case gobreaker.StateClosed:
		return StatusHealthy
	case gobreaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Registry tracks upstream clients and the outcome of their last calls.
// A process builds one and passes it to every component that reports on it.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	now       func() time.Time
}

type registeredProvider struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registeredProvider),
		now:       time.Now,
	}
}

// Register adds a client under name, replacing any previous one.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &registeredProvider{client: client}
}

// RecordSuccess stamps a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.now()
		p.lastSuccessAt = &now
	}
}

// RecordFailure stamps a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.now()
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	}
}

// GetHealth returns the health of one client, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil
	}
	return p.health(name)
}

// Snapshot returns the health of every client, ordered by name.
func (r *Registry) Snapshot() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProviderHealth, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, p.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether no registered client has an open circuit.
func (r *Registry) Healthy() bool {
	for _, h := range r.Snapshot() {
		if h.Status() == StatusUnhealthy {
			return false
		}
	}
	return true
}

func (p *registeredProvider) health(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  p.client.CircuitBreakerState(),
		Counts:        p.client.CircuitBreakerCounts(),
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
	}
}
