package calibration

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// refreshTimeout bounds the background bucket fetch so a hung store cannot
// pin the refresh slot forever.
const refreshTimeout = 5 * time.Second

// BucketStats is the realized outcome of every closed trade whose signal
// stated a confidence inside one decile bucket.
type BucketStats struct {
	Bucket int
	Trades int
	Wins   int
}

func (b BucketStats) WinRate() float64 {
	if b.Trades == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Trades)
}

type BucketSource interface {
	ConfidenceBuckets(ctx context.Context) ([]BucketStats, error)
}

type Config struct {
	MinSamples int
	// Deviation is how far (in probability) the observed win rate may drift
	// from the stated confidence before calibration kicks in.
	Deviation float64
	// UpwardCap bounds how much a lucky bucket may inflate confidence,
	// preventing an overconfidence feedback loop.
	UpwardCap    float64
	RefreshEvery time.Duration
}

// Calibrator pulls stated confidence toward the win rate actually observed
// for its decile bucket. Calibrate only ever reads the cached bucket stats;
// stale stats trigger a background refresh, so a slow or hung store can
// never stall the signal-emission path.
type Calibrator struct {
	tracer trace.Tracer
	source BucketSource
	cfg    Config

	mu        sync.Mutex
	buckets   map[int]BucketStats
	fetchedAt time.Time

	refreshing atomic.Bool

	now func() time.Time
}

func NewCalibrator(tracer trace.Tracer, source BucketSource, cfg Config) *Calibrator {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.Deviation <= 0 {
		cfg.Deviation = 0.10
	}
	if cfg.UpwardCap <= 0 {
		cfg.UpwardCap = 0.10
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 5 * time.Minute
	}
	return &Calibrator{
		tracer: tracer,
		source: source,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (c *Calibrator) Calibrate(ctx context.Context, raw float64) float64 {
	_, span := c.tracer.Start(ctx, "confidence-calibrator.calibrate")
	defer span.End()

	raw = clamp01(raw)
	stats, ok := c.bucketFor(raw)
	if !ok || stats.Trades < c.cfg.MinSamples {
		// Under-sampled buckets are not trusted: pass through unchanged.
		return raw
	}

	observed := stats.WinRate()
	diff := observed - raw
	if diff >= -c.cfg.Deviation && diff <= c.cfg.Deviation {
		return raw
	}

	// Pull halfway toward the observed rate; upward moves are capped.
	adjustment := diff / 2
	if adjustment > c.cfg.UpwardCap {
		adjustment = c.cfg.UpwardCap
	}
	return clamp01(raw + adjustment)
}

// Refresh fetches the bucket stats and swaps them in. It is safe to call
// directly (startup warm-up, tests); the signal path only ever reaches it
// through the background trigger.
func (c *Calibrator) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	rows, err := c.source.ConfidenceBuckets(ctx)
	if err != nil {
		return err
	}
	buckets := make(map[int]BucketStats, len(rows))
	for _, row := range rows {
		buckets[row.Bucket] = row
	}
	c.mu.Lock()
	c.buckets = buckets
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

// bucketFor reads the cached stats and, when they are stale, kicks off a
// background refresh. It never waits on the store: until fresh stats land,
// callers keep getting the previous stats or the raw passthrough.
func (c *Calibrator) bucketFor(raw float64) (BucketStats, bool) {
	c.mu.Lock()
	buckets := c.buckets
	fetchedAt := c.fetchedAt
	c.mu.Unlock()

	if c.source != nil && (buckets == nil || c.now().Sub(fetchedAt) > c.cfg.RefreshEvery) {
		c.triggerRefresh()
	}
	if buckets == nil {
		return BucketStats{}, false
	}
	stats, ok := buckets[bucketIndex(raw)]
	return stats, ok
}

// triggerRefresh starts at most one fetch at a time.
func (c *Calibrator) triggerRefresh() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			log.Printf("calibration bucket refresh failed, keeping previous stats: %v", err)
		}
	}()
}

func bucketIndex(confidence float64) int {
	idx := int(confidence * 10)
	if idx > 9 {
		idx = 9
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
