package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"layered-signals/internal/consensus"
	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type Gatherer interface {
	Gather(ctx context.Context, symbol, timeframe string, asOf time.Time) []domain.LayerObservation
}

type Aggregator interface {
	Aggregate(ctx context.Context, req consensus.Request, observations []domain.LayerObservation, snap domain.WeightSnapshot) domain.ConsensusResult
}

type WeightSource interface {
	Snapshot() domain.WeightSnapshot
}

type ConfidenceCalibrator interface {
	Calibrate(ctx context.Context, raw float64) float64
}

type Recorder interface {
	Emit(ctx context.Context, sig domain.Signal, observations []domain.LayerObservation) (domain.Signal, error)
	LatestSignal(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type PriceSource interface {
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// Notifier pushes a freshly emitted signal to subscribers. Best-effort.
type Notifier interface {
	NotifySignal(sig domain.Signal)
}

type Config struct {
	// TargetPct and StopPct set the reference exit prices relative to entry.
	TargetPct float64
	StopPct   float64
}

// SignalService runs the full generation pipeline: gather layer observations
// concurrently, aggregate them under one weight snapshot, calibrate the
// confidence, attach price references, and persist before acknowledging.
type SignalService struct {
	tracer     trace.Tracer
	gatherer   Gatherer
	aggregator Aggregator
	weights    WeightSource
	calibrator ConfidenceCalibrator
	recorder   Recorder
	prices     PriceSource
	notifier   Notifier
	cfg        Config

	now func() time.Time
}

func NewSignalService(tracer trace.Tracer, gatherer Gatherer, aggregator Aggregator, weights WeightSource,
	calibrator ConfidenceCalibrator, recorder Recorder, prices PriceSource, notifier Notifier, cfg Config) *SignalService {
	if cfg.TargetPct <= 0 {
		cfg.TargetPct = 0.03
	}
	if cfg.StopPct <= 0 {
		cfg.StopPct = 0.015
	}
	return &SignalService{
		tracer:     tracer,
		gatherer:   gatherer,
		aggregator: aggregator,
		weights:    weights,
		calibrator: calibrator,
		recorder:   recorder,
		prices:     prices,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Generate produces, persists, and returns one signal for the instrument.
// The weight snapshot is read exactly once per request; a tracker publish
// mid-flight changes nothing for this signal.
func (s *SignalService) Generate(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.generate")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return domain.Signal{}, fmt.Errorf("unsupported symbol %q", symbol)
	}
	if !domain.IsSupportedTimeframe(timeframe) {
		return domain.Signal{}, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	asOf := s.now().UTC()
	snap := s.weights.Snapshot()
	observations := s.gatherer.Gather(ctx, symbol, timeframe, asOf)

	result := s.aggregator.Aggregate(ctx, consensus.Request{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: asOf,
	}, observations, snap)

	confidence := result.RawConfidence
	if s.calibrator != nil && !result.Degraded {
		confidence = s.calibrator.Calibrate(ctx, result.RawConfidence)
	}

	sig := domain.Signal{
		Symbol:        symbol,
		Timeframe:     timeframe,
		Direction:     result.Direction,
		Score:         result.Score,
		RawConfidence: result.RawConfidence,
		Confidence:    confidence,
		GroupScores:   result.GroupScores,
		Contributing:  result.Contributing,
		Degraded:      result.Degraded,
		WeightVersion: snap.Version,
		Timestamp:     asOf,
	}

	if s.prices != nil {
		price, err := s.prices.LatestClose(ctx, symbol)
		if err != nil {
			// Reference prices are advisory; a missing feed degrades the
			// signal instead of dropping it.
			log.Printf("no reference price for %s: %v", symbol, err)
		} else {
			sig.EntryPrice = price
			switch result.Direction {
			case domain.DirectionLong:
				sig.TargetPrice = price * (1 + s.cfg.TargetPct)
				sig.StopPrice = price * (1 - s.cfg.StopPct)
			case domain.DirectionShort:
				sig.TargetPrice = price * (1 - s.cfg.TargetPct)
				sig.StopPrice = price * (1 + s.cfg.StopPct)
			}
		}
	}

	persisted, err := s.recorder.Emit(ctx, sig, observations)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("persist signal: %w", err)
	}

	if s.notifier != nil && persisted.Direction != domain.DirectionNeutral {
		s.notifier.NotifySignal(persisted)
	}
	return persisted, nil
}

func (s *SignalService) Latest(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	return s.recorder.LatestSignal(ctx, symbol, timeframe)
}

func (s *SignalService) List(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	return s.recorder.ListSignals(ctx, filter)
}
