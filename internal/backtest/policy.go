package backtest

import (
	"sort"
	"time"

	"layered-signals/internal/domain"
)

// WeightPolicy rebuilds the layer weights in effect at any point in simulated
// time by folding the append-only adjustment-event log onto a base snapshot.
// A policy version is a position in that log: version N admits exactly the
// events with id <= N, so the same version always rebuilds the same policy,
// no matter how much the live log has grown since.
type WeightPolicy struct {
	base    domain.WeightSnapshot
	events  []domain.WeightAdjustmentEvent
	version int64
}

// NewWeightPolicy filters and orders the event log for replay. Version <= 0
// pins the base weights with no adjustments at all.
func NewWeightPolicy(base domain.WeightSnapshot, events []domain.WeightAdjustmentEvent, version int64) *WeightPolicy {
	eligible := make([]domain.WeightAdjustmentEvent, 0, len(events))
	if version > 0 {
		for _, ev := range events {
			if ev.ID <= version {
				eligible = append(eligible, ev)
			}
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return &WeightPolicy{base: base, events: eligible, version: version}
}

// Version identifies the policy in reports and persisted runs.
func (p *WeightPolicy) Version() int64 { return p.version }

// SnapshotAt folds the eligible events recorded strictly before asOf, so a
// simulated timestep never sees an adjustment the live system had not made
// yet. An event for a layer absent from the base snapshot still applies, on
// a unit base weight, matching how aggregation treats untracked layers.
func (p *WeightPolicy) SnapshotAt(asOf time.Time) domain.WeightSnapshot {
	snap := domain.WeightSnapshot{
		Version:      p.version,
		TakenAt:      asOf.UTC(),
		Layers:       make(map[string]domain.LayerWeight, len(p.base.Layers)),
		GroupWeights: make(map[domain.LayerGroup]float64, len(p.base.GroupWeights)),
	}
	for group, w := range p.base.GroupWeights {
		snap.GroupWeights[group] = w
	}
	for name, w := range p.base.Layers {
		w.Multiplier = 1.0
		w.Enabled = true
		snap.Layers[name] = w
	}
	for _, ev := range p.events {
		if !ev.CreatedAt.Before(asOf) {
			break
		}
		w, ok := snap.Layers[ev.Layer]
		if !ok {
			w = domain.LayerWeight{BaseWeight: 1.0}
		}
		w.Multiplier = ev.NewMultiplier
		w.Enabled = ev.NewMultiplier > 0
		snap.Layers[ev.Layer] = w
	}
	return snap
}

// BaseSnapshot builds the unadjusted policy base from layer descriptors and
// the configured group weights.
func BaseSnapshot(descriptors []domain.LayerDescriptor, groupWeights map[domain.LayerGroup]float64) domain.WeightSnapshot {
	snap := domain.WeightSnapshot{
		Layers:       make(map[string]domain.LayerWeight, len(descriptors)),
		GroupWeights: make(map[domain.LayerGroup]float64, len(groupWeights)),
	}
	for group, w := range groupWeights {
		snap.GroupWeights[group] = w
	}
	for _, d := range descriptors {
		snap.Layers[d.Name] = domain.LayerWeight{
			Group:      d.Group,
			BaseWeight: d.BaseWeight,
			Multiplier: 1.0,
			Enabled:    true,
		}
	}
	return snap
}
