package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"layered-signals/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoCandles is returned when there is no market data for the requested
// instrument window.
var ErrNoCandles = errors.New("no candle data")

type candlePool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// CandleRepository reads and writes the OHLCV history the data-driven layers
// and the backtester run on.
type CandleRepository struct {
	pool   candlePool
	tracer trace.Tracer
}

func NewCandleRepository(pool candlePool, tracer trace.Tracer) *CandleRepository {
	return &CandleRepository{pool: pool, tracer: tracer}
}

// CandlesBefore returns up to limit candles at or before asOf, oldest first.
func (r *CandleRepository) CandlesBefore(ctx context.Context, symbol, timeframe string, asOf time.Time, limit int) ([]domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.candles-before")
	defer span.End()

	if limit <= 0 {
		limit = 120
	}
	rows, err := r.pool.Query(ctx, `
SELECT symbol, timeframe, open_time, open, high, low, close, volume
FROM candles
WHERE symbol = $1 AND timeframe = $2 AND open_time <= $3
ORDER BY open_time DESC
LIMIT $4`, symbol, timeframe, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoCandles
	}
	// Flip to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CandlesBetween returns all candles in [from, to], oldest first. Used by the
// backtester for deterministic replay.
func (r *CandleRepository) CandlesBetween(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Candle, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.candles-between")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT symbol, timeframe, open_time, open, high, low, close, volume
FROM candles
WHERE symbol = $1 AND timeframe = $2 AND open_time >= $3 AND open_time <= $4
ORDER BY open_time`, symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestClose returns the most recent close for a symbol on the 1h feed.
func (r *CandleRepository) LatestClose(ctx context.Context, symbol string) (float64, error) {
	ctx, span := r.tracer.Start(ctx, "candle-repo.latest-close")
	defer span.End()

	var close float64
	err := r.pool.QueryRow(ctx, `
SELECT close FROM candles
WHERE symbol = $1 AND timeframe = '1h'
ORDER BY open_time DESC
LIMIT 1`, symbol).Scan(&close)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNoCandles
	}
	if err != nil {
		return 0, err
	}
	return close, nil
}

// UpsertCandles writes a batch of candles, replacing rows for the same
// bucket.
func (r *CandleRepository) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	ctx, span := r.tracer.Start(ctx, "candle-repo.upsert-candles")
	defer span.End()

	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
INSERT INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume`,
			c.Symbol, c.Timeframe, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert %d candles: %w", len(candles), err)
	}
	return nil
}
