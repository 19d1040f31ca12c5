package backtest

import (
	"context"
	"time"

	"layered-signals/internal/consensus"
	"layered-signals/internal/domain"
	"layered-signals/internal/provider"

	"go.opentelemetry.io/otel/trace"
)

// staticCandles serves a fixed slice as a CandleSource, honoring asOf so a
// replayed provider cannot see the future.
type staticCandles struct {
	candles []domain.Candle
}

func (s staticCandles) CandlesBefore(ctx context.Context, symbol, timeframe string, asOf time.Time, limit int) ([]domain.Candle, error) {
	end := len(s.candles)
	for end > 0 && s.candles[end-1].OpenTime.After(asOf) {
		end--
	}
	if end == 0 {
		return nil, provider.ErrNoCandles
	}
	start := 0
	if limit > 0 && end-start > limit {
		start = end - limit
	}
	return s.candles[start:end], nil
}

// ObservationSet is every layer's archived output for one emitted signal.
type ObservationSet struct {
	Timestamp    time.Time                 `json:"timestamp"`
	Observations []domain.LayerObservation `json:"observations"`
}

// ReplaySignalFunc replays archived layer observations through the live
// consensus engine under the requested weight policy. A bar with no archived
// signal falls back to recomputing the technical layer from candle history,
// so sparse archives still produce a reading. Network-backed layers are never
// re-invoked; a bar where they were down replays exactly as recorded.
func ReplaySignalFunc(engine *consensus.Engine, tracer trace.Tracer, policy *WeightPolicy, archived []ObservationSet) SignalFunc {
	byBar := make(map[int64][]domain.LayerObservation, len(archived))
	for _, set := range archived {
		byBar[set.Timestamp.UTC().Unix()] = set.Observations
	}

	return func(ctx context.Context, symbol, timeframe string, asOf time.Time, history []domain.Candle) (domain.ConsensusResult, error) {
		observations, ok := byBar[asOf.UTC().Unix()]
		if !ok {
			observations = recomputeTechnical(ctx, tracer, symbol, timeframe, asOf, history)
		}

		result := engine.Aggregate(ctx, consensus.Request{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: asOf,
		}, observations, policy.SnapshotAt(asOf))
		if result.Degraded {
			return domain.ConsensusResult{}, provider.ErrNoCandles
		}
		return result, nil
	}
}

// recomputeTechnical rebuilds the one layer that is a pure function of the
// candle history. The risk layer's forest is randomized and would break
// determinism; the remaining layers are network-backed and have nothing to
// recompute from.
func recomputeTechnical(ctx context.Context, tracer trace.Tracer, symbol, timeframe string, asOf time.Time, history []domain.Candle) []domain.LayerObservation {
	technical := provider.NewTechnicalProvider(staticCandles{candles: history}, tracer)
	score, confidence, err := technical.Evaluate(ctx, symbol, timeframe, asOf)
	if err != nil {
		return []domain.LayerObservation{{
			Layer: technical.Name(), Group: technical.Group(), Error: err.Error(),
		}}
	}
	return []domain.LayerObservation{{
		Layer: technical.Name(), Group: technical.Group(),
		Score: score, Confidence: confidence, Success: true,
	}}
}
