package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context) error
}

// LearningRefreshJob periodically republishes the weight snapshot so that
// probation resets and any multiplier drift reach the live registry even when
// no trades are closing.
type LearningRefreshJob struct {
	tracer    trace.Tracer
	publisher SnapshotPublisher
	interval  time.Duration
}

func NewLearningRefreshJob(tracer trace.Tracer, publisher SnapshotPublisher, interval time.Duration) *LearningRefreshJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &LearningRefreshJob{tracer: tracer, publisher: publisher, interval: interval}
}

func (j *LearningRefreshJob) Start(ctx context.Context) {
	if j.publisher == nil {
		log.Println("Learning refresh job disabled: no tracker")
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

func (j *LearningRefreshJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "learning-refresh.run-once")
	defer span.End()

	if err := j.publisher.PublishSnapshot(ctx); err != nil {
		// A failed refresh is retried on the next tick; the previous
		// snapshot stays in effect meanwhile.
		log.Printf("Weight snapshot refresh error: %v", err)
	}
}
