package job

import (
	"context"
	"log"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type SignalGenerator interface {
	Generate(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
}

// SignalScheduler walks the supported instrument grid on a fixed interval so
// every symbol/timeframe pair always has a reasonably fresh signal.
type SignalScheduler struct {
	tracer     trace.Tracer
	generator  SignalGenerator
	interval   time.Duration
	timeframes []string
}

func NewSignalScheduler(tracer trace.Tracer, generator SignalGenerator, interval time.Duration, timeframes []string) *SignalScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}
	return &SignalScheduler{
		tracer:     tracer,
		generator:  generator,
		interval:   interval,
		timeframes: timeframes,
	}
}

func (j *SignalScheduler) Start(ctx context.Context) {
	if j.generator == nil {
		log.Println("Signal scheduler disabled: no generator")
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

func (j *SignalScheduler) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "signal-scheduler.run-once")
	defer span.End()

	generated, failed := 0, 0
	for _, timeframe := range j.timeframes {
		for _, symbol := range domain.SupportedSymbols {
			if ctx.Err() != nil {
				return
			}
			if _, err := j.generator.Generate(ctx, symbol, timeframe); err != nil {
				// One instrument failing must not stop the sweep.
				log.Printf("Scheduled signal for %s/%s failed: %v", symbol, timeframe, err)
				failed++
				continue
			}
			generated++
		}
	}
	log.Printf("Signal sweep complete generated=%d failed=%d", generated, failed)
}
