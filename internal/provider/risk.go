package provider

import (
	"context"
	"fmt"
	"math"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/ta"

	"github.com/narumiruna/go-iforest/pkg/iforest"
	"go.opentelemetry.io/otel/trace"
)

const (
	riskLookback  = 120
	riskMinPoints = 30
)

// MarketRiskProvider scores how hospitable current conditions are for taking
// a position. It fits an isolation forest over the recent return/volatility/
// volume regime and asks how anomalous the latest bar looks: an ordinary bar
// scores above neutral, a regime break scores below it.
type MarketRiskProvider struct {
	candles CandleSource
	tracer  trace.Tracer
}

func NewMarketRiskProvider(candles CandleSource, tracer trace.Tracer) *MarketRiskProvider {
	return &MarketRiskProvider{candles: candles, tracer: tracer}
}

func (p *MarketRiskProvider) Name() string             { return "regime-risk" }
func (p *MarketRiskProvider) Group() domain.LayerGroup { return domain.GroupRisk }

func (p *MarketRiskProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "regime-risk.evaluate")
	defer span.End()

	candles, err := p.candles.CandlesBefore(ctx, symbol, timeframe, asOf, riskLookback)
	if err != nil {
		return 0, 0, fmt.Errorf("load candles: %w", err)
	}

	samples := riskFeatures(candles)
	if len(samples) < riskMinPoints {
		return 0, 0, fmt.Errorf("insufficient history: %d feature rows, need %d", len(samples), riskMinPoints)
	}

	history := samples[:len(samples)-1]
	latest := samples[len(samples)-1:]

	forest := iforest.New()
	forest.Fit(history)
	anomaly := forest.Score(latest)[0]

	// Isolation forest scores cluster around 0.5; treat distance above it as
	// regime stress.
	unit := clamp((0.5-anomaly)*2, -1, 1)
	score := scoreFromUnit(unit)
	confidence := clamp(0.35+0.5*math.Abs(unit), 0.2, 0.9)
	return score, confidence, nil
}

func (p *MarketRiskProvider) Probe(ctx context.Context) error {
	_, err := p.candles.CandlesBefore(ctx, "BTC", "1h", time.Now(), 1)
	return err
}

// riskFeatures builds one row per bar: return, rolling volatility, intrabar
// range, and volume z-score.
func riskFeatures(candles []domain.Candle) [][]float64 {
	if len(candles) < 22 {
		return nil
	}
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	returns := ta.Returns(closes)

	const window = 20
	var out [][]float64
	for i := window; i < len(returns); i++ {
		_, vol := ta.MeanStd(returns[i-window : i])
		c := candles[i+1]
		barRange := 0.0
		if c.Close > 0 {
			barRange = (c.High - c.Low) / c.Close
		}
		volZ := ta.VolumeZScore(volumes[:i+2], window)
		if math.IsNaN(volZ) {
			volZ = 0
		}
		out = append(out, []float64{returns[i], vol, barRange, volZ})
	}
	return out
}
