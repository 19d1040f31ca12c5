package provider

import (
	"context"
	"fmt"
	"math"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/ta"

	"go.opentelemetry.io/otel/trace"
)

const (
	technicalLookback   = 120
	technicalMinCandles = 40
)

// CandleSource is the slice of market data the data-driven layers need.
type CandleSource interface {
	CandlesBefore(ctx context.Context, symbol, timeframe string, asOf time.Time, limit int) ([]domain.Candle, error)
}

// TechnicalProvider scores price action from momentum and trend indicators.
// MACD carries the trend reading, RSI the momentum reading; Bollinger
// overextension and unusual volume shape the confidence, not the score.
type TechnicalProvider struct {
	candles CandleSource
	tracer  trace.Tracer
}

func NewTechnicalProvider(candles CandleSource, tracer trace.Tracer) *TechnicalProvider {
	return &TechnicalProvider{candles: candles, tracer: tracer}
}

func (p *TechnicalProvider) Name() string             { return "tech-momentum" }
func (p *TechnicalProvider) Group() domain.LayerGroup { return domain.GroupTechnical }

func (p *TechnicalProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "tech-momentum.evaluate")
	defer span.End()

	candles, err := p.candles.CandlesBefore(ctx, symbol, timeframe, asOf, technicalLookback)
	if err != nil {
		return 0, 0, fmt.Errorf("load candles: %w", err)
	}
	if len(candles) < technicalMinCandles {
		return 0, 0, fmt.Errorf("insufficient history: %d candles, need %d", len(candles), technicalMinCandles)
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0, 0, fmt.Errorf("non-positive close for %s", symbol)
	}

	macdLine, signalLine := ta.MACD(closes, 12, 26, 9)
	// Normalize the MACD histogram by price so the reading is comparable
	// across instruments.
	trend := clamp((macdLine-signalLine)/(0.01*last), -1, 1)

	rsi := ta.RSI(closes, 14)
	if math.IsNaN(rsi) {
		return 0, 0, fmt.Errorf("rsi unavailable for %d candles", len(closes))
	}
	momentum := clamp((rsi-50)/50, -1, 1)

	unit := clamp(0.55*trend+0.45*momentum, -1, 1)
	score := scoreFromUnit(unit)

	confidence := confidenceFromStrength(unit)
	if trend*momentum > 0 {
		// Indicators agree.
		confidence = clamp(confidence+0.10, 0, 0.95)
	}
	if volZ := ta.VolumeZScore(volumes, 20); !math.IsNaN(volZ) && math.Abs(volZ) > 2 {
		// A volume spike makes the current bar less trustworthy as a
		// steady-state reading.
		confidence = clamp(confidence-0.10, 0.1, 0.95)
	}
	if pos, _ := ta.BollingerPosition(closes, 20, 2); !math.IsNaN(pos) && math.Abs(pos) > 0.9 {
		// Price pinned to a band edge: moves from here are mean-reversion
		// coin flips.
		confidence = clamp(confidence-0.15, 0.1, 0.95)
	}

	return score, confidence, nil
}

func (p *TechnicalProvider) Probe(ctx context.Context) error {
	_, err := p.candles.CandlesBefore(ctx, "BTC", "1h", time.Now(), 1)
	return err
}
