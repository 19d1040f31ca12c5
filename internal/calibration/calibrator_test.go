package calibration

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type fakeSource struct {
	rows  []BucketStats
	err   error
	calls atomic.Int32
}

func (f *fakeSource) ConfidenceBuckets(ctx context.Context) ([]BucketStats, error) {
	f.calls.Add(1)
	return f.rows, f.err
}

func newCalibrator(source BucketSource) *Calibrator {
	return NewCalibrator(testTracer, source, Config{
		MinSamples:   20,
		Deviation:    0.10,
		UpwardCap:    0.10,
		RefreshEvery: time.Minute,
	})
}

func primedCalibrator(t *testing.T, source BucketSource) *Calibrator {
	t.Helper()
	c := newCalibrator(source)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return c
}

func TestCalibrateUnderSampledPassesThrough(t *testing.T) {
	t.Parallel()

	c := primedCalibrator(t, &fakeSource{rows: []BucketStats{{Bucket: 7, Trades: 5, Wins: 1}}})
	if got := c.Calibrate(context.Background(), 0.75); got != 0.75 {
		t.Fatalf("under-sampled bucket must pass raw through, got %f", got)
	}
}

func TestCalibrateWithinDeviationUnchanged(t *testing.T) {
	t.Parallel()

	// Bucket 7 observed 70% vs stated 0.75: inside the 10pp deviation.
	c := primedCalibrator(t, &fakeSource{rows: []BucketStats{{Bucket: 7, Trades: 40, Wins: 28}}})
	if got := c.Calibrate(context.Background(), 0.75); got != 0.75 {
		t.Fatalf("within-deviation bucket must be unchanged, got %f", got)
	}
}

func TestCalibrateScalesDownOverconfidentBucket(t *testing.T) {
	t.Parallel()

	// Bucket 8 observed 40% vs stated 0.85: pulled halfway toward observed.
	c := primedCalibrator(t, &fakeSource{rows: []BucketStats{{Bucket: 8, Trades: 50, Wins: 20}}})
	got := c.Calibrate(context.Background(), 0.85)
	want := 0.85 + (0.40-0.85)/2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}
	if got >= 0.85 {
		t.Fatal("overconfident bucket must be scaled down")
	}
}

func TestCalibrateUpwardAdjustmentIsCapped(t *testing.T) {
	t.Parallel()

	// Bucket 3 observed 90% vs stated 0.35: raw upward pull would be
	// +0.275, capped at +0.10.
	c := primedCalibrator(t, &fakeSource{rows: []BucketStats{{Bucket: 3, Trades: 30, Wins: 27}}})
	got := c.Calibrate(context.Background(), 0.35)
	if math.Abs(got-0.45) > 1e-9 {
		t.Fatalf("upward adjustment should cap at +0.10, got %f", got)
	}
}

func TestCalibrateSourceErrorFallsBackToRaw(t *testing.T) {
	t.Parallel()

	c := newCalibrator(&fakeSource{err: errors.New("store unavailable")})
	if got := c.Calibrate(context.Background(), 0.6); got != 0.6 {
		t.Fatalf("store failure must not block calibration, got %f", got)
	}
}

func TestCalibrateRefreshesStatsInBackground(t *testing.T) {
	t.Parallel()

	source := &fakeSource{rows: []BucketStats{{Bucket: 5, Trades: 40, Wins: 22}}}
	c := primedCalibrator(t, source)
	c.Calibrate(context.Background(), 0.55)
	c.Calibrate(context.Background(), 0.55)
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected no refetch within the refresh window, got %d fetches", got)
	}

	// Expire the cache: the next Calibrate still answers from the old stats
	// and a background fetch brings in the new ones.
	current := time.Now().Add(2 * time.Minute)
	c.now = func() time.Time { return current }
	c.Calibrate(context.Background(), 0.55)
	waitFor(t, func() bool { return source.calls.Load() == 2 })
}

// blockedSource holds every fetch until released, standing in for a store
// that hangs instead of failing fast.
type blockedSource struct {
	release chan struct{}
	rows    []BucketStats
}

func (s *blockedSource) ConfidenceBuckets(ctx context.Context) ([]BucketStats, error) {
	select {
	case <-s.release:
		return s.rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCalibrateNeverBlocksOnSlowStore(t *testing.T) {
	t.Parallel()

	source := &blockedSource{
		release: make(chan struct{}),
		rows:    []BucketStats{{Bucket: 7, Trades: 100, Wins: 50}},
	}
	c := newCalibrator(source)

	// Both calls land while the store hangs: they must return the raw value
	// immediately instead of waiting out the fetch.
	start := time.Now()
	first := c.Calibrate(context.Background(), 0.75)
	second := c.Calibrate(context.Background(), 0.75)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("calibration stalled on the store for %s", elapsed)
	}
	if first != 0.75 || second != 0.75 {
		t.Fatalf("expected raw passthrough while stats are pending, got %f and %f", first, second)
	}

	// Once the store answers, the fetched stats apply: bucket 7 observed 50%
	// vs stated 0.75 pulls the value down to 0.625.
	close(source.release)
	waitFor(t, func() bool {
		return math.Abs(c.Calibrate(context.Background(), 0.75)-0.625) < 1e-9
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBucketIndexBounds(t *testing.T) {
	t.Parallel()

	if bucketIndex(1.0) != 9 {
		t.Fatalf("confidence 1.0 belongs to bucket 9, got %d", bucketIndex(1.0))
	}
	if bucketIndex(0) != 0 {
		t.Fatalf("confidence 0 belongs to bucket 0, got %d", bucketIndex(0))
	}
	if bucketIndex(0.55) != 5 {
		t.Fatalf("confidence 0.55 belongs to bucket 5, got %d", bucketIndex(0.55))
	}
}
