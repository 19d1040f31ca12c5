package consensus

import (
	"context"
	"math"
	"sort"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// maxDispersion is the largest possible standard deviation of scores on the
// 0..100 scale; used to normalize the agreement measure.
const maxDispersion = 50.0

type Config struct {
	LongThreshold  float64
	ShortThreshold float64
}

type Request struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
}

// Engine blends layer observations into one directional recommendation.
// It is pure over its inputs: one weight snapshot in, one result out.
type Engine struct {
	tracer trace.Tracer
	cfg    Config
}

func NewEngine(tracer trace.Tracer, cfg Config) *Engine {
	if cfg.LongThreshold <= cfg.ShortThreshold {
		cfg.LongThreshold = 60
		cfg.ShortThreshold = 40
	}
	return &Engine{tracer: tracer, cfg: cfg}
}

func (e *Engine) Aggregate(ctx context.Context, req Request, observations []domain.LayerObservation, snap domain.WeightSnapshot) domain.ConsensusResult {
	_, span := e.tracer.Start(ctx, "consensus-engine.aggregate")
	defer span.End()

	result := domain.ConsensusResult{
		Symbol:        req.Symbol,
		Timeframe:     req.Timeframe,
		Direction:     domain.DirectionNeutral,
		Score:         50,
		GroupScores:   map[domain.LayerGroup]float64{},
		Contributing:  []string{},
		WeightVersion: snap.Version,
		Timestamp:     req.Timestamp.UTC(),
	}

	type member struct {
		obs    domain.LayerObservation
		weight float64
	}
	groups := make(map[domain.LayerGroup][]member)
	contributing := make([]string, 0, len(observations))
	scores := make([]float64, 0, len(observations))
	confidences := make([]float64, 0, len(observations))

	for _, obs := range observations {
		if !obs.Success {
			continue
		}
		weight := layerWeight(snap, obs)
		if weight <= 0 {
			continue
		}
		groups[obs.Group] = append(groups[obs.Group], member{obs: obs, weight: weight})
		contributing = append(contributing, obs.Layer)
		scores = append(scores, obs.Score)
		confidences = append(confidences, obs.Confidence)
	}

	if len(contributing) == 0 {
		// No usable data: an explicit degraded neutral, not a fabricated score.
		result.Degraded = true
		return result
	}

	// Group sub-scores: weighted mean over the successful members only, so
	// a failed layer's weight is excluded rather than diluting the group.
	for group, members := range groups {
		var weightSum, scoreSum float64
		for _, m := range members {
			weightSum += m.weight
			scoreSum += m.weight * m.obs.Score
		}
		result.GroupScores[group] = clampScore(scoreSum / weightSum)
	}

	// Blend group sub-scores with the configured group weights, renormalized
	// over the groups that actually produced a sub-score.
	var groupWeightSum, blended float64
	for group, subScore := range result.GroupScores {
		gw, ok := snap.GroupWeights[group]
		if !ok {
			continue
		}
		groupWeightSum += gw
		blended += gw * subScore
	}
	if groupWeightSum <= 0 {
		// None of the contributing groups carries a configured weight:
		// fall back to an equal split instead of dropping the request.
		for _, subScore := range result.GroupScores {
			blended += subScore
		}
		blended /= float64(len(result.GroupScores))
	} else {
		blended /= groupWeightSum
	}
	result.Score = clampScore(blended)

	switch {
	case result.Score >= e.cfg.LongThreshold:
		result.Direction = domain.DirectionLong
	case result.Score <= e.cfg.ShortThreshold:
		result.Direction = domain.DirectionShort
	}

	// Raw confidence: agreement across contributing layers, scaled by the
	// fraction of enabled layers that were reachable. Fewer reachable layers
	// lower the ceiling even when the survivors agree perfectly.
	_, dispersion := meanStd(scores)
	agreement := 1 - clamp01(dispersion/maxDispersion)
	reachable := float64(len(contributing)) / float64(len(observations))
	avgConfidence, _ := meanStd(confidences)
	result.RawConfidence = clamp01(agreement * reachable * avgConfidence)
	result.Confidence = result.RawConfidence

	sort.Strings(contributing)
	result.Contributing = contributing
	return result
}

func layerWeight(snap domain.WeightSnapshot, obs domain.LayerObservation) float64 {
	w, ok := snap.Layers[obs.Layer]
	if !ok {
		// Layer not yet tracked: neutral multiplier on a unit base weight.
		return 1.0
	}
	if !w.Enabled {
		return 0
	}
	return w.Weight()
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 50
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
