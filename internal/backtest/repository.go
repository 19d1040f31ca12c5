package backtest

import (
	"context"
	"errors"
	"time"

	"layered-signals/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

var ErrRunNotFound = errors.New("backtest run not found")

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Run is a persisted backtest result.
type Run struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Config    Config    `json:"config"`
	Result    Result    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) SaveRun(ctx context.Context, cfg Config, result Result) (Run, error) {
	ctx, span := r.tracer.Start(ctx, "backtest-repo.save-run")
	defer span.End()

	run := Run{
		Symbol:    result.Symbol,
		Timeframe: result.Timeframe,
		From:      result.From,
		To:        result.To,
		Config:    cfg,
		Result:    result,
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO backtest_runs (symbol, timeframe, from_ts, to_ts, config, result)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`,
		run.Symbol, run.Timeframe, run.From, run.To, run.Config, run.Result)
	if err := row.Scan(&run.ID, &run.CreatedAt); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *Repository) GetRun(ctx context.Context, id int64) (Run, error) {
	ctx, span := r.tracer.Start(ctx, "backtest-repo.get-run")
	defer span.End()

	var run Run
	err := r.pool.QueryRow(ctx, `
SELECT id, symbol, timeframe, from_ts, to_ts, config, result, created_at
FROM backtest_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.Symbol, &run.Timeframe, &run.From, &run.To, &run.Config, &run.Result, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (r *Repository) ListRuns(ctx context.Context, symbol string, limit int) ([]Run, error) {
	ctx, span := r.tracer.Start(ctx, "backtest-repo.list-runs")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
SELECT id, symbol, timeframe, from_ts, to_ts, config, result, created_at
FROM backtest_runs`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = $1`
		args = append(args, symbol)
	}
	args = append(args, limit)
	if symbol != "" {
		query += ` ORDER BY id DESC LIMIT $2`
	} else {
		query += ` ORDER BY id DESC LIMIT $1`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Symbol, &run.Timeframe, &run.From, &run.To,
			&run.Config, &run.Result, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ObservationsBetween loads the archived per-layer observations of every
// signal emitted inside the window, grouped per signal, oldest first. The
// replay feeds these through the consensus engine instead of re-invoking
// live providers.
func (r *Repository) ObservationsBetween(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]ObservationSet, error) {
	ctx, span := r.tracer.Start(ctx, "backtest-repo.observations-between")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT s.ts, o.layer, o.layer_group, o.score, o.confidence, o.latency_ms, o.success, o.error
FROM signal_observations o
JOIN signals s ON s.id = o.signal_id
WHERE s.symbol = $1 AND s.timeframe = $2 AND s.ts >= $3 AND s.ts <= $4
ORDER BY s.ts, o.layer`, symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ObservationSet
	for rows.Next() {
		var ts time.Time
		var obs domain.LayerObservation
		var latencyMs int64
		if err := rows.Scan(&ts, &obs.Layer, &obs.Group, &obs.Score, &obs.Confidence,
			&latencyMs, &obs.Success, &obs.Error); err != nil {
			return nil, err
		}
		obs.Latency = time.Duration(latencyMs) * time.Millisecond
		ts = ts.UTC()
		if len(out) == 0 || !out[len(out)-1].Timestamp.Equal(ts) {
			out = append(out, ObservationSet{Timestamp: ts})
		}
		out[len(out)-1].Observations = append(out[len(out)-1].Observations, obs)
	}
	return out, rows.Err()
}
