package backtest

import (
	"context"
	"fmt"
	"time"

	"layered-signals/internal/consensus"
	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// CandleSource is the historical data slice the service replays.
type CandleSource interface {
	CandlesBetween(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Candle, error)
}

type RunStore interface {
	SaveRun(ctx context.Context, cfg Config, result Result) (Run, error)
	GetRun(ctx context.Context, id int64) (Run, error)
	ListRuns(ctx context.Context, symbol string, limit int) ([]Run, error)
}

// PolicySource loads the adjustment-event prefix that defines a weight
// policy version.
type PolicySource interface {
	EventsThrough(ctx context.Context, version int64) ([]domain.WeightAdjustmentEvent, error)
}

// ObservationSource loads the archived per-layer observations emitted inside
// a window, grouped per signal.
type ObservationSource interface {
	ObservationsBetween(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]ObservationSet, error)
}

// Request describes one backtest invocation.
type Request struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Folds     int       `json:"folds"`
	// WeightPolicyVersion pins the replayed weights to a position in the
	// adjustment-event log; 0 replays the unadjusted base weights.
	WeightPolicyVersion int64 `json:"weight_policy_version"`
	// InitialCapital and CommissionRate override the server defaults when
	// positive.
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
}

// Service wires candles, archived observations, the weight-policy log, the
// simulator, and persistence into one entry point used by the HTTP API and
// the CLI.
type Service struct {
	tracer   trace.Tracer
	candles  CandleSource
	store    RunStore
	baseCfg  Config
	engine   *consensus.Engine
	base     domain.WeightSnapshot
	policies PolicySource
	archive  ObservationSource
}

func NewService(tracer trace.Tracer, candles CandleSource, store RunStore, baseCfg Config,
	engine *consensus.Engine, base domain.WeightSnapshot, policies PolicySource, archive ObservationSource) *Service {
	return &Service{
		tracer:   tracer,
		candles:  candles,
		store:    store,
		baseCfg:  baseCfg,
		engine:   engine,
		base:     base,
		policies: policies,
		archive:  archive,
	}
}

func (s *Service) Run(ctx context.Context, req Request) (Run, error) {
	ctx, span := s.tracer.Start(ctx, "backtest-service.run")
	defer span.End()

	if !domain.IsSupportedSymbol(req.Symbol) {
		return Run{}, fmt.Errorf("unsupported symbol %q", req.Symbol)
	}
	if !domain.IsSupportedTimeframe(req.Timeframe) {
		return Run{}, fmt.Errorf("unsupported timeframe %q", req.Timeframe)
	}
	if !req.From.Before(req.To) {
		return Run{}, fmt.Errorf("empty window: from %s to %s", req.From, req.To)
	}
	if req.WeightPolicyVersion < 0 {
		return Run{}, fmt.Errorf("weight policy version %d is negative", req.WeightPolicyVersion)
	}

	candles, err := s.candles.CandlesBetween(ctx, req.Symbol, req.Timeframe, req.From, req.To)
	if err != nil {
		return Run{}, fmt.Errorf("load candles: %w", err)
	}

	cfg := s.baseCfg
	cfg.Folds = req.Folds
	if req.CommissionRate > 0 {
		cfg.CommissionRate = req.CommissionRate
	}
	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}
	cfg.WeightPolicyVersion = req.WeightPolicyVersion

	policy, err := s.loadPolicy(ctx, req.WeightPolicyVersion)
	if err != nil {
		return Run{}, err
	}

	var archived []ObservationSet
	if s.archive != nil {
		archived, err = s.archive.ObservationsBetween(ctx, req.Symbol, req.Timeframe, req.From, req.To)
		if err != nil {
			return Run{}, fmt.Errorf("load archived observations: %w", err)
		}
	}

	signalAt := ReplaySignalFunc(s.engine, s.tracer, policy, archived)
	result, err := NewSimulator(s.tracer, cfg).Run(ctx, req.Symbol, req.Timeframe, candles, signalAt)
	if err != nil {
		return Run{}, err
	}

	if s.store == nil {
		return Run{Symbol: result.Symbol, Timeframe: result.Timeframe, From: result.From, To: result.To, Config: cfg, Result: result}, nil
	}
	return s.store.SaveRun(ctx, cfg, result)
}

// loadPolicy folds the event log up to the requested version. Version 0 is
// the base policy and needs no log.
func (s *Service) loadPolicy(ctx context.Context, version int64) (*WeightPolicy, error) {
	if version == 0 {
		return NewWeightPolicy(s.base, nil, 0), nil
	}
	if s.policies == nil {
		return nil, fmt.Errorf("weight policy %d requested but no event log is configured", version)
	}
	events, err := s.policies.EventsThrough(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load weight policy %d: %w", version, err)
	}
	return NewWeightPolicy(s.base, events, version), nil
}

func (s *Service) Get(ctx context.Context, id int64) (Run, error) {
	return s.store.GetRun(ctx, id)
}

func (s *Service) List(ctx context.Context, symbol string, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, symbol, limit)
}
