package job

import (
	"context"
	"errors"
	"log"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/ml"

	"go.opentelemetry.io/otel/trace"
)

type ModelTrainer interface {
	Train(ctx context.Context, symbol, timeframe string) (ml.StoredModel, error)
}

// TrainingJob periodically refits the forecast model for every instrument so
// the learned layer tracks regime changes instead of decaying in place.
type TrainingJob struct {
	tracer     trace.Tracer
	trainer    ModelTrainer
	interval   time.Duration
	timeframes []string
}

func NewTrainingJob(tracer trace.Tracer, trainer ModelTrainer, interval time.Duration, timeframes []string) *TrainingJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}
	return &TrainingJob{
		tracer:     tracer,
		trainer:    trainer,
		interval:   interval,
		timeframes: timeframes,
	}
}

func (j *TrainingJob) Start(ctx context.Context) {
	if j.trainer == nil {
		log.Println("Model training job disabled: no trainer")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *TrainingJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "model-training.run-once")
	defer span.End()

	trained, skipped := 0, 0
	for _, timeframe := range j.timeframes {
		for _, symbol := range domain.SupportedSymbols {
			if ctx.Err() != nil {
				return
			}
			stored, err := j.trainer.Train(ctx, symbol, timeframe)
			if err != nil {
				if errors.Is(err, ml.ErrInsufficientHistory) {
					// Not enough candles yet; the next cycle retries.
					skipped++
					continue
				}
				log.Printf("Model training for %s/%s failed: %v", symbol, timeframe, err)
				skipped++
				continue
			}
			log.Printf("Trained %s v%d: %d samples, holdout accuracy %.2f", stored.ModelKey, stored.Version, stored.SampleCount, stored.Accuracy)
			trained++
		}
	}
	log.Printf("Training sweep complete trained=%d skipped=%d", trained, skipped)
}
