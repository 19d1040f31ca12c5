package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/ml"

	"go.opentelemetry.io/otel/trace"
)

// Forecaster serves the trained model's up-probability for an instrument.
type Forecaster interface {
	UpProbability(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, error)
}

// ModelForecastProvider is the learned counterpart to the indicator layer: a
// boosted-tree classifier over the same candle history. Until a model has
// been trained for the instrument it errors out and is simply excluded.
type ModelForecastProvider struct {
	forecasts Forecaster
	tracer    trace.Tracer
}

func NewModelForecastProvider(forecasts Forecaster, tracer trace.Tracer) *ModelForecastProvider {
	return &ModelForecastProvider{forecasts: forecasts, tracer: tracer}
}

func (p *ModelForecastProvider) Name() string             { return "model-forecast" }
func (p *ModelForecastProvider) Group() domain.LayerGroup { return domain.GroupTechnical }

func (p *ModelForecastProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "model-forecast.evaluate")
	defer span.End()

	prob, err := p.forecasts.UpProbability(ctx, symbol, timeframe, asOf)
	if err != nil {
		return 0, 0, fmt.Errorf("forecast %s/%s: %w", symbol, timeframe, err)
	}

	unit := clamp(2*prob-1, -1, 1)
	return scoreFromUnit(unit), confidenceFromStrength(unit), nil
}

// Probe treats an untrained model as healthy: the upstream (candle store and
// registry) answered, there is just nothing to serve yet.
func (p *ModelForecastProvider) Probe(ctx context.Context) error {
	_, err := p.forecasts.UpProbability(ctx, "BTC", "1h", time.Now())
	if err == nil || errors.Is(err, ml.ErrNoModel) || errors.Is(err, ml.ErrInsufficientHistory) {
		return nil
	}
	return err
}
