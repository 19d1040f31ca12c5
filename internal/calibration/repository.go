package calibration

import (
	"context"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository derives calibration buckets from persisted signals and their
// closed trades; nothing extra is written on the emission path.
type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) ConfidenceBuckets(ctx context.Context) ([]BucketStats, error) {
	_, span := r.tracer.Start(ctx, "calibration-repo.confidence-buckets")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT LEAST(FLOOR(s.confidence * 10), 9)::INT AS bucket,
       COUNT(*)::INT AS trades,
       COUNT(*) FILTER (WHERE t.win)::INT AS wins
FROM trades t
JOIN signals s ON s.id = t.signal_id
WHERE t.closed
GROUP BY 1
ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BucketStats, 0, 10)
	for rows.Next() {
		var stats BucketStats
		if err := rows.Scan(&stats.Bucket, &stats.Trades, &stats.Wins); err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}
