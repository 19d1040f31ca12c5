package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"layered-signals/internal/adaptive"
	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	CreateSignal(ctx context.Context, sig domain.Signal, observations []domain.LayerObservation) (domain.Signal, error)
	OpenTrade(ctx context.Context, signalID int64, entryPrice float64, entryTime time.Time) (domain.Trade, error)
	CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason, apply OutcomeFunc) (domain.Trade, error)
	GetSignal(ctx context.Context, id int64) (domain.Signal, error)
	LatestSignal(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	GetTrade(ctx context.Context, id int64) (domain.Trade, error)
	ListOpenTradesBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error)
	ExpireSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ObservationsForSignal(ctx context.Context, signalID int64) ([]domain.LayerObservation, error)
}

// OutcomeTracker folds a closed trade into the learning statistics inside the
// close transaction, then republishes weights after commit.
type OutcomeTracker interface {
	ApplyTradeClosed(ctx context.Context, q adaptive.DBTX, trade domain.Trade, signal domain.Signal, observations []domain.LayerObservation) error
	PublishSnapshot(ctx context.Context) error
}

type LatestCache interface {
	SetLatest(ctx context.Context, sig domain.Signal) error
}

// Service is the outcome recorder: the durability gate for signals and the
// single write path for trade lifecycle transitions.
type Service struct {
	tracer  trace.Tracer
	store   Store
	tracker OutcomeTracker
	cache   LatestCache
}

func NewService(tracer trace.Tracer, store Store, tracker OutcomeTracker, cache LatestCache) *Service {
	return &Service{tracer: tracer, store: store, tracker: tracker, cache: cache}
}

// Emit persists a signal and its observations before acknowledging: callers
// only ever see a signal that survived a write. Timestamps per (symbol,
// timeframe) must advance strictly; a stale one returns ErrOutOfOrder.
func (s *Service) Emit(ctx context.Context, sig domain.Signal, observations []domain.LayerObservation) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-recorder.emit")
	defer span.End()

	if err := validateSignal(sig); err != nil {
		return domain.Signal{}, err
	}
	sig.Timestamp = sig.Timestamp.UTC()

	persisted, err := s.store.CreateSignal(ctx, sig, observations)
	if err != nil {
		return domain.Signal{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetLatest(ctx, persisted); err != nil {
			log.Printf("latest-signal cache write failed for %s/%s: %v", persisted.Symbol, persisted.Timeframe, err)
		}
	}
	return persisted, nil
}

func (s *Service) OpenTrade(ctx context.Context, signalID int64, entryPrice float64, entryTime time.Time) (domain.Trade, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-recorder.open-trade")
	defer span.End()

	if entryPrice <= 0 {
		return domain.Trade{}, fmt.Errorf("entry price must be positive, got %f", entryPrice)
	}
	if entryTime.IsZero() {
		entryTime = time.Now()
	}
	return s.store.OpenTrade(ctx, signalID, entryPrice, entryTime)
}

// CloseTrade settles a trade and updates layer performance in the same
// transaction. Closing twice is a warn-logged no-op returning the stored
// trade; the learning statistics are never double-counted. Weight
// republication happens after commit and is best-effort; the learning-refresh
// job picks up anything missed.
func (s *Service) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) (domain.Trade, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-recorder.close-trade")
	defer span.End()

	if exitPrice <= 0 {
		return domain.Trade{}, fmt.Errorf("exit price must be positive, got %f", exitPrice)
	}
	if !reason.IsValid() {
		return domain.Trade{}, fmt.Errorf("invalid exit reason %q", reason)
	}
	if exitTime.IsZero() {
		exitTime = time.Now()
	}

	var apply OutcomeFunc
	if s.tracker != nil {
		apply = s.tracker.ApplyTradeClosed
	}
	trade, err := s.store.CloseTrade(ctx, tradeID, exitPrice, exitTime, reason, apply)
	if errors.Is(err, ErrTradeAlreadyClosed) {
		log.Printf("warning: trade %d is already closed, keeping the stored outcome", tradeID)
		return trade, nil
	}
	if err != nil {
		return domain.Trade{}, err
	}

	if s.tracker != nil {
		if err := s.tracker.PublishSnapshot(ctx); err != nil {
			log.Printf("weight snapshot publish after trade %d close failed: %v", tradeID, err)
		}
	}
	return trade, nil
}

// ExpireTrades force-closes open trades older than maxAge at the given price
// lookup, with exit reason timeout. It returns how many trades were closed.
func (s *Service) ExpireTrades(ctx context.Context, maxAge time.Duration, priceFor func(ctx context.Context, symbol string) (float64, error)) (int, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-recorder.expire-trades")
	defer span.End()

	cutoff := time.Now().Add(-maxAge)
	stale, err := s.store.ListOpenTradesBefore(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("list stale trades: %w", err)
	}

	closed := 0
	for _, trade := range stale {
		sig, err := s.store.GetSignal(ctx, trade.SignalID)
		if err != nil {
			log.Printf("expire trade %d: load signal %d: %v", trade.ID, trade.SignalID, err)
			continue
		}
		price, err := priceFor(ctx, sig.Symbol)
		if err != nil {
			// No usable price: settle at entry for a flat outcome rather
			// than inventing one.
			log.Printf("expire trade %d: price lookup for %s failed, settling flat: %v", trade.ID, sig.Symbol, err)
			price = trade.EntryPrice
		}
		if _, err := s.CloseTrade(ctx, trade.ID, price, time.Now(), domain.ExitTimeout); err != nil {
			log.Printf("expire trade %d: %v", trade.ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}

// ExpireSignals marks stale untraded signals expired.
func (s *Service) ExpireSignals(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "outcome-recorder.expire-signals")
	defer span.End()

	return s.store.ExpireSignalsBefore(ctx, time.Now().Add(-maxAge))
}

func (s *Service) GetSignal(ctx context.Context, id int64) (domain.Signal, error) {
	return s.store.GetSignal(ctx, id)
}

func (s *Service) LatestSignal(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	return s.store.LatestSignal(ctx, symbol, timeframe)
}

func (s *Service) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	return s.store.ListSignals(ctx, filter)
}

func (s *Service) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	return s.store.GetTrade(ctx, id)
}

func validateSignal(sig domain.Signal) error {
	if !domain.IsSupportedSymbol(sig.Symbol) {
		return fmt.Errorf("unsupported symbol %q", sig.Symbol)
	}
	if !domain.IsSupportedTimeframe(sig.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q", sig.Timeframe)
	}
	if !sig.Direction.IsValid() {
		return fmt.Errorf("invalid direction %q", sig.Direction)
	}
	if sig.Score < 0 || sig.Score > 100 {
		return fmt.Errorf("score %f outside [0, 100]", sig.Score)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0, 1]", sig.Confidence)
	}
	if sig.Timestamp.IsZero() {
		return fmt.Errorf("signal timestamp is required")
	}
	return nil
}

// settle fills a trade's exit fields. Profit is measured as a fraction of the
// entry price, sign-adjusted for direction; a flat exit is not a win.
func settle(trade domain.Trade, direction domain.Direction, exitPrice float64, exitTime time.Time, reason domain.ExitReason) domain.Trade {
	pnl := (exitPrice - trade.EntryPrice) / trade.EntryPrice
	if direction == domain.DirectionShort {
		pnl = -pnl
	}
	win := pnl > 0
	exitTime = exitTime.UTC()

	trade.ExitPrice = &exitPrice
	trade.ExitTime = &exitTime
	trade.ExitReason = &reason
	trade.ProfitLoss = &pnl
	trade.Win = &win
	trade.Closed = true
	return trade
}
