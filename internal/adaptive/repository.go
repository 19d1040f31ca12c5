package adaptive

import (
	"context"
	"errors"

	"layered-signals/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the same queries run
// standalone or inside the trade-close transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	tracer trace.Tracer
}

func NewRepository(tracer trace.Tracer) *Repository {
	return &Repository{tracer: tracer}
}

func (r *Repository) GetPerformance(ctx context.Context, q DBTX, layer string) (domain.LayerPerformanceRecord, error) {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.get-performance")
	defer span.End()

	row := q.QueryRow(ctx, `
SELECT layer, total, wins, losses, win_rate, avg_profit_loss, multiplier, enabled, disabled_at, updated_at
FROM layer_performance
WHERE layer = $1`, layer)

	var rec domain.LayerPerformanceRecord
	err := row.Scan(&rec.Layer, &rec.Total, &rec.Wins, &rec.Losses, &rec.WinRate,
		&rec.AvgProfitLoss, &rec.Multiplier, &rec.Enabled, &rec.DisabledAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LayerPerformanceRecord{Layer: layer, Multiplier: 1.0, Enabled: true}, nil
	}
	if err != nil {
		return domain.LayerPerformanceRecord{}, err
	}
	return rec, nil
}

func (r *Repository) UpsertPerformance(ctx context.Context, q DBTX, rec domain.LayerPerformanceRecord) error {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.upsert-performance")
	defer span.End()

	_, err := q.Exec(ctx, `
INSERT INTO layer_performance (layer, total, wins, losses, win_rate, avg_profit_loss, multiplier, enabled, disabled_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (layer) DO UPDATE SET
    total = EXCLUDED.total,
    wins = EXCLUDED.wins,
    losses = EXCLUDED.losses,
    win_rate = EXCLUDED.win_rate,
    avg_profit_loss = EXCLUDED.avg_profit_loss,
    multiplier = EXCLUDED.multiplier,
    enabled = EXCLUDED.enabled,
    disabled_at = EXCLUDED.disabled_at,
    updated_at = EXCLUDED.updated_at`,
		rec.Layer, rec.Total, rec.Wins, rec.Losses, rec.WinRate,
		rec.AvgProfitLoss, rec.Multiplier, rec.Enabled, rec.DisabledAt, rec.UpdatedAt)
	return err
}

func (r *Repository) AppendEvent(ctx context.Context, q DBTX, ev domain.WeightAdjustmentEvent) error {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.append-event")
	defer span.End()

	_, err := q.Exec(ctx, `
INSERT INTO weight_adjustment_events (layer, old_multiplier, new_multiplier, win_rate, sample_size, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.Layer, ev.OldMultiplier, ev.NewMultiplier, ev.WinRate, ev.SampleSize, ev.Reason, ev.CreatedAt)
	return err
}

func (r *Repository) ListPerformance(ctx context.Context, q DBTX) ([]domain.LayerPerformanceRecord, error) {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.list-performance")
	defer span.End()

	rows, err := q.Query(ctx, `
SELECT layer, total, wins, losses, win_rate, avg_profit_loss, multiplier, enabled, disabled_at, updated_at
FROM layer_performance
ORDER BY layer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LayerPerformanceRecord
	for rows.Next() {
		var rec domain.LayerPerformanceRecord
		if err := rows.Scan(&rec.Layer, &rec.Total, &rec.Wins, &rec.Losses, &rec.WinRate,
			&rec.AvgProfitLoss, &rec.Multiplier, &rec.Enabled, &rec.DisabledAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListEvents returns the most recent audit entries for one layer, newest
// first.
func (r *Repository) ListEvents(ctx context.Context, q DBTX, layer string, limit int) ([]domain.WeightAdjustmentEvent, error) {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.list-events")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
SELECT id, layer, old_multiplier, new_multiplier, win_rate, sample_size, reason, created_at
FROM weight_adjustment_events
WHERE layer = $1
ORDER BY id DESC
LIMIT $2`, layer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeightAdjustmentEvent
	for rows.Next() {
		var ev domain.WeightAdjustmentEvent
		if err := rows.Scan(&ev.ID, &ev.Layer, &ev.OldMultiplier, &ev.NewMultiplier,
			&ev.WinRate, &ev.SampleSize, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListEventsThrough returns the log prefix with id <= version, across all
// layers, id ascending. This prefix is what defines a weight policy version
// for replay.
func (r *Repository) ListEventsThrough(ctx context.Context, q DBTX, version int64) ([]domain.WeightAdjustmentEvent, error) {
	ctx, span := r.tracer.Start(ctx, "adaptive-repo.list-events-through")
	defer span.End()

	rows, err := q.Query(ctx, `
SELECT id, layer, old_multiplier, new_multiplier, win_rate, sample_size, reason, created_at
FROM weight_adjustment_events
WHERE id <= $1
ORDER BY id`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeightAdjustmentEvent
	for rows.Next() {
		var ev domain.WeightAdjustmentEvent
		if err := rows.Scan(&ev.ID, &ev.Layer, &ev.OldMultiplier, &ev.NewMultiplier,
			&ev.WinRate, &ev.SampleSize, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
