package provider

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/ml"
)

type fakeForecaster struct {
	prob float64
	err  error
}

func (f *fakeForecaster) UpProbability(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, error) {
	return f.prob, f.err
}

func TestModelForecastMapsProbabilityToScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		prob      float64
		wantScore float64
	}{
		{"strong up", 0.9, 90},
		{"neutral", 0.5, 50},
		{"strong down", 0.1, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewModelForecastProvider(&fakeForecaster{prob: tc.prob}, testTracer)
			score, conf, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if math.Abs(score-tc.wantScore) > 1e-9 {
				t.Errorf("score = %.2f, want %.2f", score, tc.wantScore)
			}
			if conf < 0 || conf > 0.95 {
				t.Errorf("confidence out of range: %f", conf)
			}
		})
	}
}

func TestModelForecastConfidenceGrowsWithConviction(t *testing.T) {
	t.Parallel()

	weak := NewModelForecastProvider(&fakeForecaster{prob: 0.55}, testTracer)
	strong := NewModelForecastProvider(&fakeForecaster{prob: 0.95}, testTracer)

	_, weakConf, _ := weak.Evaluate(context.Background(), "BTC", "1h", time.Now())
	_, strongConf, _ := strong.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if strongConf <= weakConf {
		t.Errorf("conviction should raise confidence: weak=%.2f strong=%.2f", weakConf, strongConf)
	}
}

func TestModelForecastErrorsWithoutModel(t *testing.T) {
	t.Parallel()

	p := NewModelForecastProvider(&fakeForecaster{err: ml.ErrNoModel}, testTracer)
	if _, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now()); !errors.Is(err, ml.ErrNoModel) {
		t.Fatalf("expected ErrNoModel to propagate, got %v", err)
	}
}

func TestModelForecastProbeToleratesUntrainedModel(t *testing.T) {
	t.Parallel()

	if err := NewModelForecastProvider(&fakeForecaster{err: ml.ErrNoModel}, testTracer).Probe(context.Background()); err != nil {
		t.Errorf("Probe with untrained model: %v", err)
	}
	if err := NewModelForecastProvider(&fakeForecaster{prob: 0.6}, testTracer).Probe(context.Background()); err != nil {
		t.Errorf("Probe with healthy model: %v", err)
	}
	boom := errors.New("registry down")
	if err := NewModelForecastProvider(&fakeForecaster{err: boom}, testTracer).Probe(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Probe should surface real failures, got %v", err)
	}
}

func TestModelForecastMetadata(t *testing.T) {
	t.Parallel()

	p := NewModelForecastProvider(&fakeForecaster{}, testTracer)
	if p.Name() != "model-forecast" {
		t.Errorf("name = %q", p.Name())
	}
	if p.Group() != domain.GroupTechnical {
		t.Errorf("group = %q", p.Group())
	}
}
