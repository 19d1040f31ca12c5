package layer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type InvokerConfig struct {
	CallTimeout      time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	MaxBackoffFactor int
}

// Invoker fans a request out to every enabled provider concurrently. One
// worker per registered layer, each under its own timeout, so a slow
// provider never blocks the batch beyond its own budget.
type Invoker struct {
	tracer   trace.Tracer
	registry *Registry
	cfg      InvokerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewInvoker(tracer trace.Tracer, registry *Registry, cfg InvokerConfig) *Invoker {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Invoker{
		tracer:   tracer,
		registry: registry,
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

func (inv *Invoker) breaker(name string) *Breaker {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	b, ok := inv.breakers[name]
	if !ok {
		b = NewBreaker(inv.cfg.FailureThreshold, inv.cfg.Cooldown, inv.cfg.MaxBackoffFactor)
		inv.breakers[name] = b
	}
	return b
}

// BreakerState exposes a layer's breaker state for diagnostics.
func (inv *Invoker) BreakerState(name string) domain.BreakerState {
	return inv.breaker(name).State()
}

// Gather invokes all enabled providers for (symbol, timeframe, asOf) and
// returns one observation per enabled layer, failed ones included with
// Success=false. Observations are sorted by layer name so downstream output
// is stable.
func (inv *Invoker) Gather(ctx context.Context, symbol, timeframe string, asOf time.Time) []domain.LayerObservation {
	ctx, span := inv.tracer.Start(ctx, "layer-invoker.gather")
	defer span.End()

	descriptors := inv.registry.Descriptors()
	enabled := make([]domain.LayerDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	results := make(chan domain.LayerObservation, len(enabled))
	var wg sync.WaitGroup
	for _, d := range enabled {
		wg.Add(1)
		go func(d domain.LayerDescriptor) {
			defer wg.Done()
			results <- inv.invokeOne(ctx, d, symbol, timeframe, asOf)
		}(d)
	}
	wg.Wait()
	close(results)

	observations := make([]domain.LayerObservation, 0, len(enabled))
	for obs := range results {
		observations = append(observations, obs)
	}
	sort.Slice(observations, func(i, j int) bool { return observations[i].Layer < observations[j].Layer })
	return observations
}

func (inv *Invoker) invokeOne(ctx context.Context, d domain.LayerDescriptor, symbol, timeframe string, asOf time.Time) domain.LayerObservation {
	obs := domain.LayerObservation{Layer: d.Name, Group: d.Group}

	breaker := inv.breaker(d.Name)
	if !breaker.Allow() {
		obs.Error = "circuit breaker open"
		inv.registry.SetHealth(d.Name, domain.HealthUnavailable, breaker.State())
		return obs
	}

	provider := inv.registry.Provider(d.Name)
	if provider == nil {
		obs.Error = "provider not registered"
		return obs
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		score      float64
		confidence float64
		err        error
	}
	// Buffered so an abandoned worker's late result is dropped, not leaked.
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		score, confidence, err := provider.Evaluate(callCtx, symbol, timeframe, asOf)
		done <- outcome{score: score, confidence: confidence, err: err}
	}()

	var result outcome
	select {
	case result = <-done:
	case <-callCtx.Done():
		result = outcome{err: fmt.Errorf("layer call: %w", callCtx.Err())}
	}
	obs.Latency = time.Since(started)

	if result.err == nil && (result.score < 0 || result.score > 100 || result.confidence < 0 || result.confidence > 1) {
		result.err = fmt.Errorf("malformed output: score=%.4f confidence=%.4f", result.score, result.confidence)
	}

	if result.err != nil {
		obs.Error = result.err.Error()
		breaker.OnFailure()
		health := domain.HealthDegraded
		if breaker.State() == domain.BreakerOpen {
			health = domain.HealthUnavailable
		}
		inv.registry.SetHealth(d.Name, health, breaker.State())
		return obs
	}

	obs.Score = result.score
	obs.Confidence = result.confidence
	obs.Success = true
	breaker.OnSuccess()
	inv.registry.SetHealth(d.Name, domain.HealthHealthy, breaker.State())
	return obs
}
