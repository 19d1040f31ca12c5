package adaptive

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	reasonWinRateBand    = "win_rate_band_change"
	reasonDisabled       = "disabled_win_rate_below_threshold"
	reasonProbationReset = "probation_reset"
)

type Config struct {
	// MinSamples is how many closed trades a layer needs before the
	// punitive multiplier bands (and disablement) apply.
	MinSamples int
	// ContributionBand: a layer only owns an outcome when its score moved
	// past neutral by more than this amount.
	ContributionBand float64
	// DisableCooldown is how long a disabled layer stays benched before it
	// is re-enabled on probation with fresh counters.
	DisableCooldown time.Duration
	GroupWeights    map[domain.LayerGroup]float64
}

type Store interface {
	// GetPerformance returns the record for a layer, or a fresh default
	// (multiplier 1.0, enabled, zero counters) when none exists yet.
	GetPerformance(ctx context.Context, q DBTX, layer string) (domain.LayerPerformanceRecord, error)
	UpsertPerformance(ctx context.Context, q DBTX, rec domain.LayerPerformanceRecord) error
	AppendEvent(ctx context.Context, q DBTX, ev domain.WeightAdjustmentEvent) error
	ListPerformance(ctx context.Context, q DBTX) ([]domain.LayerPerformanceRecord, error)
}

type Registry interface {
	Descriptors() []domain.LayerDescriptor
	ApplyWeights(snap domain.WeightSnapshot)
	SetDisabled(name, reason string, at time.Time, sampleSize int)
}

// Tracker folds closed-trade outcomes into per-layer performance records and
// publishes versioned, immutable weight snapshots. Readers always see a
// complete snapshot; publication is an atomic pointer swap.
type Tracker struct {
	tracer   trace.Tracer
	store    Store
	pool     DBTX
	registry Registry
	cfg      Config

	version  atomic.Int64
	snapshot atomic.Pointer[domain.WeightSnapshot]

	now func() time.Time
}

func NewTracker(tracer trace.Tracer, store Store, pool DBTX, registry Registry, cfg Config) *Tracker {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 20
	}
	if cfg.ContributionBand <= 0 {
		cfg.ContributionBand = 10
	}
	if cfg.DisableCooldown <= 0 {
		cfg.DisableCooldown = 72 * time.Hour
	}
	if len(cfg.GroupWeights) == 0 {
		cfg.GroupWeights = map[domain.LayerGroup]float64{}
	}
	return &Tracker{
		tracer:   tracer,
		store:    store,
		pool:     pool,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Snapshot returns the current weight snapshot. Before the first publish it
// synthesizes a version-zero snapshot from the registry's base descriptors.
func (t *Tracker) Snapshot() domain.WeightSnapshot {
	if snap := t.snapshot.Load(); snap != nil {
		return *snap
	}
	return t.buildSnapshot(nil, 0)
}

// ApplyTradeClosed updates performance records for every layer that
// meaningfully contributed to the signal behind the closed trade. It runs
// inside the caller's transaction so the trade status and the statistics
// commit or roll back together.
func (t *Tracker) ApplyTradeClosed(ctx context.Context, q DBTX, trade domain.Trade, signal domain.Signal, observations []domain.LayerObservation) error {
	ctx, span := t.tracer.Start(ctx, "adaptive-tracker.apply-trade-closed")
	defer span.End()

	if trade.Win == nil || trade.ProfitLoss == nil {
		return fmt.Errorf("trade %d has no realized outcome", trade.ID)
	}

	// Only layers the signal actually blended may be credited or blamed: a
	// layer excluded at emission (disabled, zero weight) took no part in the
	// outcome even if its stored observation looks decisive.
	contributed := make(map[string]struct{}, len(signal.Contributing))
	for _, layer := range signal.Contributing {
		contributed[layer] = struct{}{}
	}

	for _, obs := range observations {
		if _, ok := contributed[obs.Layer]; !ok {
			continue
		}
		if !obs.Success || math.Abs(obs.Score-50) <= t.cfg.ContributionBand {
			continue
		}
		if err := t.applyOne(ctx, q, obs.Layer, *trade.Win, *trade.ProfitLoss); err != nil {
			return fmt.Errorf("layer %s: %w", obs.Layer, err)
		}
	}
	return nil
}

func (t *Tracker) applyOne(ctx context.Context, q DBTX, layer string, win bool, profitLoss float64) error {
	rec, err := t.store.GetPerformance(ctx, q, layer)
	if err != nil {
		return err
	}
	rec.Layer = layer

	rec.Total++
	if win {
		rec.Wins++
	} else {
		rec.Losses++
	}
	rec.WinRate = float64(rec.Wins) / float64(rec.Total)
	rec.AvgProfitLoss += (profitLoss - rec.AvgProfitLoss) / float64(rec.Total)

	oldMultiplier := rec.Multiplier
	wasEnabled := rec.Enabled

	newMultiplier, enabled := multiplierFor(rec.WinRate, rec.Total, t.cfg.MinSamples)
	rec.Multiplier = newMultiplier
	rec.Enabled = enabled
	now := t.now().UTC()
	rec.UpdatedAt = now
	if wasEnabled && !enabled {
		disabledAt := now
		rec.DisabledAt = &disabledAt
	}

	if newMultiplier != oldMultiplier || enabled != wasEnabled {
		reason := reasonWinRateBand
		if !enabled {
			reason = reasonDisabled
		}
		ev := domain.WeightAdjustmentEvent{
			Layer:         layer,
			OldMultiplier: oldMultiplier,
			NewMultiplier: newMultiplier,
			WinRate:       rec.WinRate,
			SampleSize:    rec.Total,
			Reason:        reason,
			CreatedAt:     now,
		}
		if err := t.store.AppendEvent(ctx, q, ev); err != nil {
			return err
		}
	}

	return t.store.UpsertPerformance(ctx, q, rec)
}

// PublishSnapshot reloads all performance records, runs the probation pass
// for disabled layers whose cooldown has elapsed, and swaps in a new
// versioned snapshot for readers and the registry.
func (t *Tracker) PublishSnapshot(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "adaptive-tracker.publish-snapshot")
	defer span.End()

	records, err := t.store.ListPerformance(ctx, t.pool)
	if err != nil {
		return fmt.Errorf("list layer performance: %w", err)
	}

	now := t.now().UTC()
	byLayer := make(map[string]domain.LayerPerformanceRecord, len(records))
	for _, rec := range records {
		if !rec.Enabled && rec.DisabledAt != nil && now.Sub(*rec.DisabledAt) >= t.cfg.DisableCooldown {
			reset, err := t.resetOnProbation(ctx, rec, now)
			if err != nil {
				return err
			}
			rec = reset
		}
		byLayer[rec.Layer] = rec
	}

	version := t.version.Add(1)
	snap := t.buildSnapshot(byLayer, version)
	t.snapshot.Store(&snap)

	if t.registry != nil {
		t.registry.ApplyWeights(snap)
		for _, rec := range byLayer {
			if !rec.Enabled && rec.DisabledAt != nil {
				t.registry.SetDisabled(rec.Layer,
					fmt.Sprintf("win rate %.0f%% below threshold", rec.WinRate*100),
					*rec.DisabledAt, rec.Total)
			}
		}
	}
	return nil
}

func (t *Tracker) resetOnProbation(ctx context.Context, rec domain.LayerPerformanceRecord, now time.Time) (domain.LayerPerformanceRecord, error) {
	ev := domain.WeightAdjustmentEvent{
		Layer:         rec.Layer,
		OldMultiplier: rec.Multiplier,
		NewMultiplier: 1.0,
		WinRate:       rec.WinRate,
		SampleSize:    rec.Total,
		Reason:        reasonProbationReset,
		CreatedAt:     now,
	}
	if err := t.store.AppendEvent(ctx, t.pool, ev); err != nil {
		return rec, err
	}

	rec.Total = 0
	rec.Wins = 0
	rec.Losses = 0
	rec.WinRate = 0
	rec.AvgProfitLoss = 0
	rec.Multiplier = 1.0
	rec.Enabled = true
	rec.DisabledAt = nil
	rec.UpdatedAt = now
	if err := t.store.UpsertPerformance(ctx, t.pool, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (t *Tracker) buildSnapshot(records map[string]domain.LayerPerformanceRecord, version int64) domain.WeightSnapshot {
	snap := domain.WeightSnapshot{
		Version:      version,
		TakenAt:      t.now().UTC(),
		Layers:       map[string]domain.LayerWeight{},
		GroupWeights: map[domain.LayerGroup]float64{},
	}
	for group, w := range t.cfg.GroupWeights {
		snap.GroupWeights[group] = w
	}
	if t.registry == nil {
		return snap
	}
	for _, d := range t.registry.Descriptors() {
		weight := domain.LayerWeight{
			Group:      d.Group,
			BaseWeight: d.BaseWeight,
			Multiplier: 1.0,
			Enabled:    true,
		}
		if rec, ok := records[d.Name]; ok {
			weight.Multiplier = rec.Multiplier
			weight.Enabled = rec.Enabled
		}
		snap.Layers[d.Name] = weight
	}
	return snap
}

// multiplierFor maps a rolling win rate onto the trust multiplier bands.
// The punitive bands require a minimum sample so a cold layer is not benched
// on noise.
func multiplierFor(winRate float64, total, minSamples int) (float64, bool) {
	if total == 0 {
		return 1.0, true
	}
	if total >= minSamples {
		if winRate < 0.35 {
			return 0, false
		}
		if winRate < 0.40 {
			return 0.5, true
		}
	}
	switch {
	case winRate > 0.60:
		return 1.5, true
	case winRate >= 0.50:
		return 1.0, true
	case winRate >= 0.40:
		return 0.75, true
	default:
		// Below 40% but under-sampled: worst non-punitive band.
		return 0.75, true
	}
}
