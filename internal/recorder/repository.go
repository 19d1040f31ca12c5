package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"layered-signals/internal/adaptive"
	"layered-signals/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeFunc runs inside the trade-close transaction, after the trade row is
// settled but before commit. A returned error rolls the whole close back.
type OutcomeFunc func(ctx context.Context, q adaptive.DBTX, trade domain.Trade, signal domain.Signal, observations []domain.LayerObservation) error

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

const signalColumns = `id, symbol, timeframe, direction, score, raw_confidence, confidence,
group_scores, contributing, degraded, weight_version,
entry_price, target_price, stop_price, status, trade_id, ts, created_at`

// CreateSignal persists a signal and its layer observations in one
// transaction. The insert is gated on the per-(symbol, timeframe) timestamp
// being strictly newer than anything already stored; a stale timestamp
// returns ErrOutOfOrder and writes nothing.
func (r *Repository) CreateSignal(ctx context.Context, sig domain.Signal, observations []domain.LayerObservation) (domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.create-signal")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
INSERT INTO signals (symbol, timeframe, direction, score, raw_confidence, confidence,
                     group_scores, contributing, degraded, weight_version,
                     entry_price, target_price, stop_price, status, ts)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
WHERE NOT EXISTS (
    SELECT 1 FROM signals WHERE symbol = $1 AND timeframe = $2 AND ts >= $15
)
RETURNING id, created_at`,
		sig.Symbol, sig.Timeframe, sig.Direction, sig.Score, sig.RawConfidence, sig.Confidence,
		sig.GroupScores, sig.Contributing, sig.Degraded, sig.WeightVersion,
		sig.EntryPrice, sig.TargetPrice, sig.StopPrice, domain.SignalOpen, sig.Timestamp)
	if err := row.Scan(&sig.ID, &sig.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, ErrOutOfOrder
		}
		return domain.Signal{}, fmt.Errorf("insert signal: %w", err)
	}
	sig.Status = domain.SignalOpen

	if len(observations) > 0 {
		batch := &pgx.Batch{}
		for _, obs := range observations {
			batch.Queue(`
INSERT INTO signal_observations (signal_id, layer, layer_group, score, confidence, latency_ms, success, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				sig.ID, obs.Layer, obs.Group, obs.Score, obs.Confidence,
				obs.Latency.Milliseconds(), obs.Success, obs.Error)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return domain.Signal{}, fmt.Errorf("insert observations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Signal{}, fmt.Errorf("commit: %w", err)
	}
	return sig, nil
}

// OpenTrade creates a trade against an open, directional signal and links it
// back. The signal row is locked so concurrent opens cannot both succeed.
func (r *Repository) OpenTrade(ctx context.Context, signalID int64, entryPrice float64, entryTime time.Time) (domain.Trade, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.open-trade")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	sig, err := scanSignal(tx.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1 FOR UPDATE`, signalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, ErrSignalNotFound
		}
		return domain.Trade{}, fmt.Errorf("lock signal: %w", err)
	}
	if sig.Direction == domain.DirectionNeutral {
		return domain.Trade{}, ErrNeutralSignal
	}
	if sig.Status != domain.SignalOpen {
		return domain.Trade{}, ErrSignalNotOpen
	}
	if sig.TradeID != nil {
		return domain.Trade{}, ErrTradeExists
	}

	trade := domain.Trade{SignalID: signalID, EntryPrice: entryPrice, EntryTime: entryTime.UTC()}
	row := tx.QueryRow(ctx, `
INSERT INTO trades (signal_id, entry_price, entry_time)
VALUES ($1, $2, $3)
RETURNING id, created_at`, trade.SignalID, trade.EntryPrice, trade.EntryTime)
	if err := row.Scan(&trade.ID, &trade.CreatedAt); err != nil {
		return domain.Trade{}, fmt.Errorf("insert trade: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE signals SET trade_id = $1 WHERE id = $2`, trade.ID, signalID); err != nil {
		return domain.Trade{}, fmt.Errorf("link trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("commit: %w", err)
	}
	return trade, nil
}

// CloseTrade settles a trade and runs the outcome callback in the same
// transaction, so the trade status and the learning statistics commit or
// roll back together. Closing an already-closed trade returns the stored
// trade alongside ErrTradeAlreadyClosed.
func (r *Repository) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason, apply OutcomeFunc) (domain.Trade, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.close-trade")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	trade, err := scanTrade(tx.QueryRow(ctx, `
SELECT id, signal_id, entry_price, entry_time, exit_price, exit_time, exit_reason, profit_loss, win, closed, created_at
FROM trades WHERE id = $1 FOR UPDATE`, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, ErrTradeNotFound
		}
		return domain.Trade{}, fmt.Errorf("lock trade: %w", err)
	}
	if trade.Closed {
		return trade, ErrTradeAlreadyClosed
	}

	sig, err := scanSignal(tx.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, trade.SignalID))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("load signal: %w", err)
	}

	trade = settle(trade, sig.Direction, exitPrice, exitTime, reason)
	if _, err := tx.Exec(ctx, `
UPDATE trades
SET exit_price = $1, exit_time = $2, exit_reason = $3, profit_loss = $4, win = $5, closed = TRUE
WHERE id = $6`,
		trade.ExitPrice, trade.ExitTime, trade.ExitReason, trade.ProfitLoss, trade.Win, trade.ID); err != nil {
		return domain.Trade{}, fmt.Errorf("settle trade: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE signals SET status = $1 WHERE id = $2`, domain.SignalClosed, sig.ID); err != nil {
		return domain.Trade{}, fmt.Errorf("close signal: %w", err)
	}

	if apply != nil {
		observations, err := r.observations(ctx, tx, sig.ID)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("load observations: %w", err)
		}
		if err := apply(ctx, tx, trade, sig, observations); err != nil {
			return domain.Trade{}, fmt.Errorf("apply outcome: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Trade{}, fmt.Errorf("commit: %w", err)
	}
	return trade, nil
}

func (r *Repository) GetSignal(ctx context.Context, id int64) (domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.get-signal")
	defer span.End()

	sig, err := scanSignal(r.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Signal{}, ErrSignalNotFound
	}
	return sig, err
}

func (r *Repository) LatestSignal(ctx context.Context, symbol, timeframe string) (domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.latest-signal")
	defer span.End()

	sig, err := scanSignal(r.pool.QueryRow(ctx, `
SELECT `+signalColumns+` FROM signals
WHERE symbol = $1 AND timeframe = $2
ORDER BY ts DESC
LIMIT 1`, symbol, timeframe))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Signal{}, ErrSignalNotFound
	}
	return sig, err
}

func (r *Repository) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.list-signals")
	defer span.End()

	query := `SELECT ` + signalColumns + ` FROM signals WHERE 1=1`
	args := []any{}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if filter.Timeframe != "" {
		args = append(args, filter.Timeframe)
		query += fmt.Sprintf(" AND timeframe = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (r *Repository) GetTrade(ctx context.Context, id int64) (domain.Trade, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.get-trade")
	defer span.End()

	trade, err := scanTrade(r.pool.QueryRow(ctx, `
SELECT id, signal_id, entry_price, entry_time, exit_price, exit_time, exit_reason, profit_loss, win, closed, created_at
FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, ErrTradeNotFound
	}
	return trade, err
}

// ListOpenTradesBefore returns open trades entered before the cutoff, oldest
// first. The trade-expiry job uses it to force timeout exits.
func (r *Repository) ListOpenTradesBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.list-open-trades-before")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, signal_id, entry_price, entry_time, exit_price, exit_time, exit_reason, profit_loss, win, closed, created_at
FROM trades
WHERE NOT closed AND entry_time < $1
ORDER BY entry_time
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, trade)
	}
	return out, rows.Err()
}

// ExpireSignalsBefore marks open, untraded signals older than the cutoff as
// expired and returns how many rows changed.
func (r *Repository) ExpireSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.expire-signals-before")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `
UPDATE signals SET status = $1
WHERE status = $2 AND trade_id IS NULL AND ts < $3`,
		domain.SignalExpired, domain.SignalOpen, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ObservationsForSignal returns the persisted per-layer observations for a
// signal, in layer order.
func (r *Repository) ObservationsForSignal(ctx context.Context, signalID int64) ([]domain.LayerObservation, error) {
	ctx, span := r.tracer.Start(ctx, "recorder-repo.observations-for-signal")
	defer span.End()

	return r.observations(ctx, r.pool, signalID)
}

func (r *Repository) observations(ctx context.Context, q adaptive.DBTX, signalID int64) ([]domain.LayerObservation, error) {
	rows, err := q.Query(ctx, `
SELECT layer, layer_group, score, confidence, latency_ms, success, error
FROM signal_observations
WHERE signal_id = $1
ORDER BY layer`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LayerObservation
	for rows.Next() {
		var obs domain.LayerObservation
		var latencyMs int64
		if err := rows.Scan(&obs.Layer, &obs.Group, &obs.Score, &obs.Confidence,
			&latencyMs, &obs.Success, &obs.Error); err != nil {
			return nil, err
		}
		obs.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, obs)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (domain.Signal, error) {
	var sig domain.Signal
	err := row.Scan(&sig.ID, &sig.Symbol, &sig.Timeframe, &sig.Direction, &sig.Score,
		&sig.RawConfidence, &sig.Confidence, &sig.GroupScores, &sig.Contributing,
		&sig.Degraded, &sig.WeightVersion, &sig.EntryPrice, &sig.TargetPrice,
		&sig.StopPrice, &sig.Status, &sig.TradeID, &sig.Timestamp, &sig.CreatedAt)
	return sig, err
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var trade domain.Trade
	err := row.Scan(&trade.ID, &trade.SignalID, &trade.EntryPrice, &trade.EntryTime,
		&trade.ExitPrice, &trade.ExitTime, &trade.ExitReason, &trade.ProfitLoss,
		&trade.Win, &trade.Closed, &trade.CreatedAt)
	return trade, err
}
