package layer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type stubProvider struct {
	name     string
	group    domain.LayerGroup
	score    float64
	conf     float64
	err      error
	delay    time.Duration
	probeErr error
	calls    atomic.Int64
}

func (p *stubProvider) Name() string             { return p.name }
func (p *stubProvider) Group() domain.LayerGroup { return p.group }
func (p *stubProvider) Probe(ctx context.Context) error {
	return p.probeErr
}

func (p *stubProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	return p.score, p.conf, p.err
}

func newTestInvoker(t *testing.T, providers ...*stubProvider) (*Invoker, *Registry) {
	t.Helper()
	registry := NewRegistry()
	for _, p := range providers {
		if err := registry.Register(p, 1.0); err != nil {
			t.Fatalf("register %s: %v", p.name, err)
		}
	}
	inv := NewInvoker(testTracer, registry, InvokerConfig{
		CallTimeout:      200 * time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		MaxBackoffFactor: 8,
	})
	return inv, registry
}

func TestGatherCollectsAllEnabledLayers(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "trend", group: domain.GroupTechnical, score: 70, conf: 0.8}
	b := &stubProvider{name: "mood", group: domain.GroupSentiment, score: 40, conf: 0.6}
	inv, _ := newTestInvoker(t, a, b)

	obs := inv.Gather(context.Background(), "BTC", "1h", time.Now())
	if len(obs) != 2 {
		t.Fatalf("expected two observations, got %d", len(obs))
	}
	// Sorted by layer name.
	if obs[0].Layer != "mood" || obs[1].Layer != "trend" {
		t.Fatalf("unexpected order: %s, %s", obs[0].Layer, obs[1].Layer)
	}
	for _, o := range obs {
		if !o.Success {
			t.Fatalf("layer %s should have succeeded: %s", o.Layer, o.Error)
		}
	}
}

func TestGatherTimeoutProducesFailedObservation(t *testing.T) {
	t.Parallel()

	slow := &stubProvider{name: "slow", group: domain.GroupOnChain, score: 60, conf: 0.7, delay: 2 * time.Second}
	fast := &stubProvider{name: "fast", group: domain.GroupTechnical, score: 55, conf: 0.9}
	inv, _ := newTestInvoker(t, slow, fast)

	started := time.Now()
	obs := inv.Gather(context.Background(), "ETH", "1h", time.Now())
	if time.Since(started) > time.Second {
		t.Fatal("gather should complete within the per-layer timeout, not the provider delay")
	}

	byName := make(map[string]domain.LayerObservation, len(obs))
	for _, o := range obs {
		byName[o.Layer] = o
	}
	if byName["fast"].Success != true {
		t.Fatal("fast layer should succeed")
	}
	if byName["slow"].Success {
		t.Fatal("slow layer should have timed out")
	}
	if byName["slow"].Error == "" {
		t.Fatal("timed-out layer should carry an error")
	}
}

func TestGatherMalformedOutputIsFailure(t *testing.T) {
	t.Parallel()

	bad := &stubProvider{name: "bad", group: domain.GroupMacro, score: 250, conf: 0.5}
	inv, _ := newTestInvoker(t, bad)

	obs := inv.Gather(context.Background(), "BTC", "4h", time.Now())
	if len(obs) != 1 || obs[0].Success {
		t.Fatalf("out-of-range score should be a failure: %+v", obs)
	}
}

func TestGatherShortCircuitsOpenBreaker(t *testing.T) {
	t.Parallel()

	failing := &stubProvider{name: "flaky", group: domain.GroupRisk, err: errors.New("upstream down")}
	inv, registry := newTestInvoker(t, failing)

	for i := 0; i < 5; i++ {
		inv.Gather(context.Background(), "BTC", "1h", time.Now())
	}
	if inv.BreakerState("flaky") != domain.BreakerOpen {
		t.Fatalf("breaker should be open after 5 failures, got %s", inv.BreakerState("flaky"))
	}

	callsBefore := failing.calls.Load()
	obs := inv.Gather(context.Background(), "BTC", "1h", time.Now())
	if failing.calls.Load() != callsBefore {
		t.Fatal("open breaker must short-circuit without invoking the provider")
	}
	if len(obs) != 1 || obs[0].Success {
		t.Fatalf("short-circuited layer should be a failed observation: %+v", obs)
	}

	descriptors := registry.Descriptors()
	if descriptors[0].Health != domain.HealthUnavailable {
		t.Fatalf("descriptor health should be unavailable, got %s", descriptors[0].Health)
	}
}

func TestGatherSkipsDisabledLayers(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "alpha", group: domain.GroupTechnical, score: 70, conf: 0.8}
	b := &stubProvider{name: "beta", group: domain.GroupSentiment, score: 40, conf: 0.6}
	inv, registry := newTestInvoker(t, a, b)

	registry.SetDisabled("beta", "win rate below threshold", time.Now(), 25)
	obs := inv.Gather(context.Background(), "BTC", "1h", time.Now())
	if len(obs) != 1 || obs[0].Layer != "alpha" {
		t.Fatalf("disabled layer should not be invoked: %+v", obs)
	}
	if b.calls.Load() != 0 {
		t.Fatal("disabled provider must not be called")
	}
}

func TestRegistryApplyWeightsIsAtomicSwap(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_ = registry.Register(&stubProvider{name: "alpha", group: domain.GroupTechnical}, 1.0)
	_ = registry.Register(&stubProvider{name: "beta", group: domain.GroupSentiment}, 2.0)

	registry.ApplyWeights(domain.WeightSnapshot{
		Version: 3,
		Layers: map[string]domain.LayerWeight{
			"alpha": {Multiplier: 1.5, Enabled: true},
			"beta":  {Multiplier: 0, Enabled: false},
		},
	})

	descriptors := registry.Descriptors()
	byName := make(map[string]domain.LayerDescriptor)
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	if byName["alpha"].Multiplier != 1.5 || !byName["alpha"].Enabled {
		t.Fatalf("alpha weights not applied: %+v", byName["alpha"])
	}
	if byName["beta"].Multiplier != 0 || byName["beta"].Enabled {
		t.Fatalf("beta should be disabled with zero multiplier: %+v", byName["beta"])
	}
	if byName["beta"].BaseWeight != 2.0 {
		t.Fatal("base weight must survive a weight snapshot application")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(&stubProvider{name: "alpha", group: domain.GroupTechnical}, 1.0); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := registry.Register(&stubProvider{name: "alpha", group: domain.GroupTechnical}, 1.0); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestProbeAllMarksUnreachableProviders(t *testing.T) {
	t.Parallel()

	ok := &stubProvider{name: "up", group: domain.GroupTechnical}
	down := &stubProvider{name: "down", group: domain.GroupOnChain, probeErr: errors.New("dns failure")}
	registry := NewRegistry()
	_ = registry.Register(ok, 1.0)
	_ = registry.Register(down, 1.0)

	registry.ProbeAll(context.Background(), time.Second)

	for _, d := range registry.Descriptors() {
		switch d.Name {
		case "up":
			if d.Health != domain.HealthHealthy {
				t.Fatalf("up should be healthy, got %s", d.Health)
			}
		case "down":
			if d.Health != domain.HealthUnavailable {
				t.Fatalf("down should be unavailable, got %s", d.Health)
			}
		}
	}
}
