package layer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"layered-signals/internal/domain"
)

// Provider is the single contract every analysis layer satisfies. Scores use
// a 0..100 scale (50 = neutral), confidence 0..1. Implementations must be
// idempotent for a given asOf within their own data refresh granularity.
type Provider interface {
	Name() string
	Group() domain.LayerGroup
	Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (score float64, confidence float64, err error)
	// Probe reports whether the provider's upstream is reachable. Used for
	// capability negotiation at startup instead of load-time failures.
	Probe(ctx context.Context) error
}

// Registry maps layer names to providers and owns the descriptor set.
// Descriptor reads are lock-free copies; every mutation replaces the whole
// slice so concurrent readers never observe a half-updated set.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	current   []domain.LayerDescriptor
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider, baseWeight float64) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("provider must have a name")
	}
	if baseWeight <= 0 {
		return fmt.Errorf("layer %s: base weight must be positive", p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; exists {
		return fmt.Errorf("layer %s already registered", p.Name())
	}
	r.providers[p.Name()] = p

	next := append(r.snapshotLocked(), domain.LayerDescriptor{
		Name:       p.Name(),
		Group:      p.Group(),
		BaseWeight: baseWeight,
		Multiplier: 1.0,
		Enabled:    true,
		Health:     domain.HealthHealthy,
		Breaker:    domain.BreakerClosed,
	})
	sort.Slice(next, func(i, j int) bool { return next[i].Name < next[j].Name })
	r.current = next
	return nil
}

func (r *Registry) Provider(name string) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[name]
}

// Descriptors returns a copy of the current descriptor set.
func (r *Registry) Descriptors() []domain.LayerDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}

func (r *Registry) snapshotLocked() []domain.LayerDescriptor {
	out := make([]domain.LayerDescriptor, len(r.current))
	copy(out, r.current)
	return out
}

// ApplyWeights folds a published weight snapshot into the descriptors in a
// single swap. Unknown layers in the snapshot are ignored; layers missing
// from the snapshot keep their current weight.
func (r *Registry) ApplyWeights(snap domain.WeightSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshotLocked()
	for i := range next {
		w, ok := snap.Layers[next[i].Name]
		if !ok {
			continue
		}
		next[i].Multiplier = w.Multiplier
		next[i].Enabled = w.Enabled
	}
	r.current = next
}

// SetHealth records a layer's observed health and breaker state.
func (r *Registry) SetHealth(name string, health domain.HealthState, breaker domain.BreakerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshotLocked()
	for i := range next {
		if next[i].Name == name {
			next[i].Health = health
			next[i].Breaker = breaker
		}
	}
	r.current = next
}

// SetDisabled flips a layer's enabled flag with an operator-visible reason.
func (r *Registry) SetDisabled(name, reason string, at time.Time, sampleSize int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.snapshotLocked()
	for i := range next {
		if next[i].Name == name {
			next[i].Enabled = false
			next[i].DisabledReason = reason
			disabledAt := at
			next[i].DisabledAt = &disabledAt
			next[i].SampleSize = sampleSize
		}
	}
	r.current = next
}

// ProbeAll queries every provider for availability and marks descriptors
// accordingly. Called once at startup.
func (r *Registry) ProbeAll(ctx context.Context, timeout time.Duration) {
	for _, d := range r.Descriptors() {
		p := r.Provider(d.Name)
		if p == nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Probe(probeCtx)
		cancel()
		if err != nil {
			r.SetHealth(d.Name, domain.HealthUnavailable, d.Breaker)
			continue
		}
		r.SetHealth(d.Name, domain.HealthHealthy, d.Breaker)
	}
}
