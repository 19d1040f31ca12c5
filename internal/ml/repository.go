package ml

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

// StoredModel is one persisted, versioned model artifact.
type StoredModel struct {
	ID          int64     `json:"id"`
	ModelKey    string    `json:"model_key"`
	Version     int       `json:"version"`
	TrainedFrom time.Time `json:"trained_from"`
	TrainedTo   time.Time `json:"trained_to"`
	HorizonBars int       `json:"horizon_bars"`
	SampleCount int       `json:"sample_count"`
	Accuracy    float64   `json:"accuracy"`
	Artifact    []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool   pool
	tracer trace.Tracer
}

func NewRepository(pool pool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

// SaveModel inserts a new version and makes it the active one for its key,
// in one transaction.
func (r *Repository) SaveModel(ctx context.Context, m StoredModel) (StoredModel, error) {
	ctx, span := r.tracer.Start(ctx, "ml-registry.save-model")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return StoredModel{}, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM ml_models WHERE model_key = $1`,
		m.ModelKey).Scan(&m.Version); err != nil {
		return StoredModel{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ml_models SET is_active = FALSE WHERE model_key = $1`, m.ModelKey); err != nil {
		return StoredModel{}, err
	}

	row := tx.QueryRow(ctx, `
INSERT INTO ml_models (model_key, version, trained_from, trained_to, horizon_bars, sample_count, accuracy, artifact, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
RETURNING id, created_at`,
		m.ModelKey, m.Version, m.TrainedFrom.UTC(), m.TrainedTo.UTC(),
		m.HorizonBars, m.SampleCount, m.Accuracy, m.Artifact)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return StoredModel{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredModel{}, err
	}
	return m, nil
}

// ActiveModel returns the active model for a key, or (nil, nil) when none has
// been trained yet.
func (r *Repository) ActiveModel(ctx context.Context, modelKey string) (*StoredModel, error) {
	ctx, span := r.tracer.Start(ctx, "ml-registry.active-model")
	defer span.End()

	var m StoredModel
	err := r.pool.QueryRow(ctx, `
SELECT id, model_key, version, trained_from, trained_to, horizon_bars, sample_count, accuracy, artifact, created_at
FROM ml_models
WHERE model_key = $1 AND is_active
ORDER BY version DESC
LIMIT 1`, modelKey).Scan(
		&m.ID, &m.ModelKey, &m.Version, &m.TrainedFrom, &m.TrainedTo,
		&m.HorizonBars, &m.SampleCount, &m.Accuracy, &m.Artifact, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
