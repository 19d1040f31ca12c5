package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// ErrNoModel means no trained model exists yet for the instrument.
var ErrNoModel = errors.New("no trained model")

type CandleSource interface {
	CandlesBefore(ctx context.Context, symbol, timeframe string, asOf time.Time, limit int) ([]domain.Candle, error)
}

type ModelStore interface {
	SaveModel(ctx context.Context, m StoredModel) (StoredModel, error)
	ActiveModel(ctx context.Context, modelKey string) (*StoredModel, error)
}

type Config struct {
	// HorizonBars is how far ahead the label looks.
	HorizonBars int
	// TrainingBars caps how much history one training run consumes.
	TrainingBars int
	// MinSamples is the smallest dataset worth fitting.
	MinSamples int
	// CacheTTL bounds how long a loaded model is reused before the registry
	// is consulted again.
	CacheTTL time.Duration
	Train    TrainOptions
}

// Service trains per-instrument forecast models and serves up-probabilities
// from the active version. Loaded models are cached in memory; the registry
// is the source of truth.
type Service struct {
	tracer  trace.Tracer
	candles CandleSource
	store   ModelStore
	cfg     Config

	mu     sync.Mutex
	loaded map[string]loadedModel

	now func() time.Time
}

type loadedModel struct {
	model     *Model
	version   int
	fetchedAt time.Time
}

func NewService(tracer trace.Tracer, candles CandleSource, store ModelStore, cfg Config) *Service {
	if cfg.HorizonBars <= 0 {
		cfg.HorizonBars = 4
	}
	if cfg.TrainingBars <= 0 {
		cfg.TrainingBars = 2000
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 200
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Service{
		tracer:  tracer,
		candles: candles,
		store:   store,
		cfg:     cfg,
		loaded:  make(map[string]loadedModel),
		now:     time.Now,
	}
}

func modelKey(symbol, timeframe string) string {
	return symbol + ":" + timeframe
}

// Train fits a fresh model for the instrument from stored candles and
// registers it as the active version. Accuracy is measured on a chronological
// holdout before the final fit uses the full dataset.
func (s *Service) Train(ctx context.Context, symbol, timeframe string) (StoredModel, error) {
	ctx, span := s.tracer.Start(ctx, "ml-service.train")
	defer span.End()

	candles, err := s.candles.CandlesBefore(ctx, symbol, timeframe, s.now().UTC(), s.cfg.TrainingBars)
	if err != nil {
		return StoredModel{}, fmt.Errorf("load training candles: %w", err)
	}

	samples, labels, err := BuildDataset(candles, s.cfg.HorizonBars)
	if err != nil {
		return StoredModel{}, err
	}
	if len(samples) < s.cfg.MinSamples {
		return StoredModel{}, fmt.Errorf("%w: %d rows, need %d", ErrInsufficientHistory, len(samples), s.cfg.MinSamples)
	}

	split := len(samples) * 4 / 5
	holdout, err := TrainModel(samples[:split], labels[:split], featureNames, s.cfg.Train)
	if err != nil {
		return StoredModel{}, fmt.Errorf("fit holdout model: %w", err)
	}
	correct := 0
	for i := split; i < len(samples); i++ {
		if (holdout.UpProbability(samples[i]) >= 0.5) == labels[i] {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(samples)-split)

	final, err := TrainModel(samples, labels, featureNames, s.cfg.Train)
	if err != nil {
		return StoredModel{}, fmt.Errorf("fit final model: %w", err)
	}
	artifact, err := final.Encode()
	if err != nil {
		return StoredModel{}, fmt.Errorf("encode model: %w", err)
	}

	stored, err := s.store.SaveModel(ctx, StoredModel{
		ModelKey:    modelKey(symbol, timeframe),
		TrainedFrom: candles[0].OpenTime.UTC(),
		TrainedTo:   candles[len(candles)-1].OpenTime.UTC(),
		HorizonBars: s.cfg.HorizonBars,
		SampleCount: len(samples),
		Accuracy:    accuracy,
		Artifact:    artifact,
	})
	if err != nil {
		return StoredModel{}, fmt.Errorf("register model: %w", err)
	}

	s.mu.Lock()
	s.loaded[stored.ModelKey] = loadedModel{model: final, version: stored.Version, fetchedAt: s.now()}
	s.mu.Unlock()
	return stored, nil
}

// UpProbability scores the instrument's latest features with the active
// model. ErrNoModel when nothing has been trained yet.
func (s *Service) UpProbability(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, error) {
	ctx, span := s.tracer.Start(ctx, "ml-service.up-probability")
	defer span.End()

	model, err := s.activeModel(ctx, symbol, timeframe)
	if err != nil {
		return 0, err
	}

	candles, err := s.candles.CandlesBefore(ctx, symbol, timeframe, asOf, featureWarmup+30)
	if err != nil {
		return 0, fmt.Errorf("load feature candles: %w", err)
	}
	row, err := FeatureVector(candles)
	if err != nil {
		return 0, err
	}
	return model.UpProbability(row), nil
}

func (s *Service) activeModel(ctx context.Context, symbol, timeframe string) (*Model, error) {
	key := modelKey(symbol, timeframe)

	s.mu.Lock()
	cached, ok := s.loaded[key]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.cfg.CacheTTL {
		return cached.model, nil
	}

	stored, err := s.store.ActiveModel(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load active model: %w", err)
	}
	if stored == nil {
		// Keep serving a stale in-memory model over nothing at all.
		if ok {
			return cached.model, nil
		}
		return nil, ErrNoModel
	}
	if ok && cached.version == stored.Version {
		s.mu.Lock()
		cached.fetchedAt = s.now()
		s.loaded[key] = cached
		s.mu.Unlock()
		return cached.model, nil
	}

	model, err := DecodeModel(stored.Artifact)
	if err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	s.mu.Lock()
	s.loaded[key] = loadedModel{model: model, version: stored.Version, fetchedAt: s.now()}
	s.mu.Unlock()
	return model, nil
}
