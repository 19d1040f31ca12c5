package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"
)

// Config carries the execution-model parameters for a run. The same candles
// and config always produce the same result: the simulator holds no clock,
// no randomness, and no external state.
type Config struct {
	LongThreshold  float64
	ShortThreshold float64
	TargetPct      float64
	StopPct        float64
	CommissionRate float64
	SlippageRate   float64
	// HorizonBars force-closes a position that hit neither target nor stop.
	HorizonBars int
	// WarmupBars are skipped at the start so indicators have history.
	WarmupBars int
	// Folds > 1 additionally evaluates the period as independent
	// walk-forward segments.
	Folds int
	// InitialCapital seeds the simulated ledger.
	InitialCapital float64
	// WeightPolicyVersion records which weight policy the signal function
	// replayed, so a persisted run names the policy it evaluated.
	WeightPolicyVersion int64
}

// SignalFunc produces a consensus reading from history strictly before the
// decision bar. Implementations must not look ahead.
type SignalFunc func(ctx context.Context, symbol, timeframe string, asOf time.Time, history []domain.Candle) (domain.ConsensusResult, error)

// TradeRecord is one simulated round trip.
type TradeRecord struct {
	Direction  domain.Direction `json:"direction"`
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   time.Time        `json:"exit_time"`
	EntryPrice float64          `json:"entry_price"`
	ExitPrice  float64          `json:"exit_price"`
	// GrossReturn is the direction-adjusted price move; NetReturn subtracts
	// commission and slippage on both sides.
	GrossReturn float64           `json:"gross_return"`
	NetReturn   float64           `json:"net_return"`
	ExitReason  domain.ExitReason `json:"exit_reason"`
	Confidence  float64           `json:"confidence"`
}

// Metrics summarizes a set of simulated trades.
type Metrics struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	AvgReturn   float64 `json:"avg_return"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	// RiskAdjusted is mean net return over its standard deviation; zero when
	// undefined.
	RiskAdjusted float64 `json:"risk_adjusted"`
	// FinalCapital is the initial capital compounded through every trade.
	FinalCapital float64 `json:"final_capital"`
}

// FoldMetrics is one walk-forward segment's summary.
type FoldMetrics struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Metrics Metrics   `json:"metrics"`
}

// Result is the full output of one backtest run.
type Result struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Trades    []TradeRecord `json:"trades"`
	Metrics   Metrics       `json:"metrics"`
	Folds     []FoldMetrics `json:"folds,omitempty"`
}

type Simulator struct {
	tracer trace.Tracer
	cfg    Config
}

func NewSimulator(tracer trace.Tracer, cfg Config) *Simulator {
	if cfg.LongThreshold <= 0 {
		cfg.LongThreshold = 60
	}
	if cfg.ShortThreshold <= 0 {
		cfg.ShortThreshold = 40
	}
	if cfg.TargetPct <= 0 {
		cfg.TargetPct = 0.03
	}
	if cfg.StopPct <= 0 {
		cfg.StopPct = 0.015
	}
	if cfg.HorizonBars <= 0 {
		cfg.HorizonBars = 48
	}
	if cfg.WarmupBars <= 0 {
		cfg.WarmupBars = 40
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 10000
	}
	return &Simulator{tracer: tracer, cfg: cfg}
}

// Run replays the candle series bar by bar. At each bar the signal function
// sees only prior history; entries fill at the next bar's open with slippage,
// exits at target, stop, or the horizon. One position at a time.
func (s *Simulator) Run(ctx context.Context, symbol, timeframe string, candles []domain.Candle, signalAt SignalFunc) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "backtest.run")
	defer span.End()

	if len(candles) <= s.cfg.WarmupBars+1 {
		return Result{}, fmt.Errorf("need more than %d candles, got %d", s.cfg.WarmupBars+1, len(candles))
	}

	trades, err := s.replay(ctx, symbol, timeframe, candles, signalAt)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Symbol:    symbol,
		Timeframe: timeframe,
		From:      candles[0].OpenTime,
		To:        candles[len(candles)-1].OpenTime,
		Trades:    trades,
		Metrics:   s.summarize(trades),
	}

	if s.cfg.Folds > 1 {
		result.Folds = s.walkForward(ctx, symbol, timeframe, candles, signalAt)
	}
	return result, nil
}

func (s *Simulator) replay(ctx context.Context, symbol, timeframe string, candles []domain.Candle, signalAt SignalFunc) ([]TradeRecord, error) {
	var trades []TradeRecord

	i := s.cfg.WarmupBars
	for i < len(candles)-1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision := candles[i]
		consensus, err := signalAt(ctx, symbol, timeframe, decision.OpenTime, candles[:i+1])
		if err != nil {
			// A layer failing on one bar excludes that bar, mirroring live
			// exclusion semantics.
			i++
			continue
		}

		var direction domain.Direction
		switch {
		case consensus.Score >= s.cfg.LongThreshold:
			direction = domain.DirectionLong
		case consensus.Score <= s.cfg.ShortThreshold:
			direction = domain.DirectionShort
		default:
			i++
			continue
		}

		trade, nextIdx := s.execute(candles, i+1, direction, consensus.Confidence)
		trades = append(trades, trade)
		i = nextIdx
	}
	return trades, nil
}

// execute opens at candles[entryIdx].Open and walks forward until an exit.
// Returns the trade and the index of the bar after the exit.
func (s *Simulator) execute(candles []domain.Candle, entryIdx int, direction domain.Direction, confidence float64) (TradeRecord, int) {
	entry := candles[entryIdx]
	entryPrice := entry.Open
	if direction == domain.DirectionLong {
		entryPrice *= 1 + s.cfg.SlippageRate
	} else {
		entryPrice *= 1 - s.cfg.SlippageRate
	}

	target, stop := entryPrice*(1+s.cfg.TargetPct), entryPrice*(1-s.cfg.StopPct)
	if direction == domain.DirectionShort {
		target, stop = entryPrice*(1-s.cfg.TargetPct), entryPrice*(1+s.cfg.StopPct)
	}

	exitIdx := entryIdx
	exitPrice := candles[entryIdx].Close
	reason := domain.ExitTimeout
	lastIdx := entryIdx + s.cfg.HorizonBars
	if lastIdx > len(candles)-1 {
		lastIdx = len(candles) - 1
	}

	for j := entryIdx; j <= lastIdx; j++ {
		bar := candles[j]
		exitIdx = j
		if direction == domain.DirectionLong {
			// Pessimistic fill order: the stop is checked before the target
			// when both lie inside one bar.
			if bar.Low <= stop {
				exitPrice, reason = stop, domain.ExitStop
				break
			}
			if bar.High >= target {
				exitPrice, reason = target, domain.ExitTarget
				break
			}
		} else {
			if bar.High >= stop {
				exitPrice, reason = stop, domain.ExitStop
				break
			}
			if bar.Low <= target {
				exitPrice, reason = target, domain.ExitTarget
				break
			}
		}
		exitPrice = bar.Close
	}

	gross := (exitPrice - entryPrice) / entryPrice
	if direction == domain.DirectionShort {
		gross = -gross
	}
	net := gross - 2*s.cfg.CommissionRate

	return TradeRecord{
		Direction:   direction,
		EntryTime:   entry.OpenTime,
		ExitTime:    candles[exitIdx].OpenTime,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		GrossReturn: gross,
		NetReturn:   net,
		ExitReason:  reason,
		Confidence:  confidence,
	}, exitIdx + 1
}

func (s *Simulator) walkForward(ctx context.Context, symbol, timeframe string, candles []domain.Candle, signalAt SignalFunc) []FoldMetrics {
	folds := s.cfg.Folds
	segment := len(candles) / folds
	if segment <= s.cfg.WarmupBars+1 {
		return nil
	}

	out := make([]FoldMetrics, 0, folds)
	for f := 0; f < folds; f++ {
		start := f * segment
		end := start + segment
		if f == folds-1 {
			end = len(candles)
		}
		slice := candles[start:end]
		trades, err := s.replay(ctx, symbol, timeframe, slice, signalAt)
		if err != nil {
			continue
		}
		out = append(out, FoldMetrics{
			From:    slice[0].OpenTime,
			To:      slice[len(slice)-1].OpenTime,
			Metrics: s.summarize(trades),
		})
	}
	return out
}

func (s *Simulator) summarize(trades []TradeRecord) Metrics {
	m := Metrics{Trades: len(trades), FinalCapital: s.cfg.InitialCapital}
	if len(trades) == 0 {
		return m
	}

	returns := make([]float64, len(trades))
	for i, tr := range trades {
		returns[i] = tr.NetReturn
		if tr.NetReturn > 0 {
			m.Wins++
		}
	}
	m.WinRate = float64(m.Wins) / float64(len(trades))
	m.AvgReturn = stat.Mean(returns, nil)

	// Compound the equity curve for total return and drawdown.
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	m.TotalReturn = equity - 1
	m.MaxDrawdown = maxDD
	m.FinalCapital = s.cfg.InitialCapital * equity

	if len(returns) > 1 {
		if sd := stat.StdDev(returns, nil); sd > 0 && !math.IsNaN(sd) {
			m.RiskAdjusted = m.AvgReturn / sd
		}
	}
	return m
}
