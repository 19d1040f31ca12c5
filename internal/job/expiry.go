package job

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type Expirer interface {
	ExpireTrades(ctx context.Context, maxAge time.Duration, priceFor func(ctx context.Context, symbol string) (float64, error)) (int, error)
	ExpireSignals(ctx context.Context, maxAge time.Duration) (int64, error)
}

type PriceLookup interface {
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// ExpiryJob force-closes trades that outlived their horizon (exit reason
// timeout) and marks stale untraded signals expired.
type ExpiryJob struct {
	tracer      trace.Tracer
	expirer     Expirer
	prices      PriceLookup
	interval    time.Duration
	tradeMaxAge time.Duration
	// signalMaxAge is how long an untraded signal stays actionable.
	signalMaxAge time.Duration
}

func NewExpiryJob(tracer trace.Tracer, expirer Expirer, prices PriceLookup, interval, tradeMaxAge, signalMaxAge time.Duration) *ExpiryJob {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if tradeMaxAge <= 0 {
		tradeMaxAge = 48 * time.Hour
	}
	if signalMaxAge <= 0 {
		signalMaxAge = 4 * time.Hour
	}
	return &ExpiryJob{
		tracer:       tracer,
		expirer:      expirer,
		prices:       prices,
		interval:     interval,
		tradeMaxAge:  tradeMaxAge,
		signalMaxAge: signalMaxAge,
	}
}

func (j *ExpiryJob) Start(ctx context.Context) {
	if j.expirer == nil {
		log.Println("Expiry job disabled: no recorder")
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

func (j *ExpiryJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "expiry-job.run-once")
	defer span.End()

	priceFor := func(ctx context.Context, symbol string) (float64, error) {
		return j.prices.LatestClose(ctx, symbol)
	}
	closedTrades, err := j.expirer.ExpireTrades(ctx, j.tradeMaxAge, priceFor)
	if err != nil {
		log.Printf("Trade expiry cycle error: %v", err)
	}

	expiredSignals, err := j.expirer.ExpireSignals(ctx, j.signalMaxAge)
	if err != nil {
		log.Printf("Signal expiry cycle error: %v", err)
	}

	if closedTrades > 0 || expiredSignals > 0 {
		log.Printf("Expiry cycle complete trades_closed=%d signals_expired=%d", closedTrades, expiredSignals)
	}
}
