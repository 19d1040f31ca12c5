package domain

import "time"

type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort || d == DirectionNeutral
}

// LayerGroup buckets providers by the kind of analysis they perform.
// The set is open: consensus math never enumerates groups by name.
type LayerGroup string

const (
	GroupTechnical LayerGroup = "technical"
	GroupSentiment LayerGroup = "sentiment"
	GroupOnChain   LayerGroup = "onchain"
	GroupMacro     LayerGroup = "macro"
	GroupRisk      LayerGroup = "risk"
)

type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// LayerDescriptor is the invoker's view of one registered provider.
// Weights and the enabled flag are mutated only through the adaptive
// tracker, which publishes whole-descriptor swaps.
type LayerDescriptor struct {
	Name           string       `json:"name"`
	Group          LayerGroup   `json:"group"`
	BaseWeight     float64      `json:"base_weight"`
	Multiplier     float64      `json:"multiplier"`
	Enabled        bool         `json:"enabled"`
	Health         HealthState  `json:"health"`
	Breaker        BreakerState `json:"breaker"`
	DisabledReason string       `json:"disabled_reason,omitempty"`
	DisabledAt     *time.Time   `json:"disabled_at,omitempty"`
	SampleSize     int          `json:"sample_size"`
}

// Weight is the effective aggregation weight before in-group renormalization.
func (d LayerDescriptor) Weight() float64 {
	return d.BaseWeight * d.Multiplier
}

// LayerObservation is one provider's output for one request. Scores use a
// 0..100 scale where 50 is neutral.
type LayerObservation struct {
	Layer      string        `json:"layer"`
	Group      LayerGroup    `json:"group"`
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// ConsensusResult is the immutable output of one aggregation pass.
type ConsensusResult struct {
	Symbol        string                 `json:"symbol"`
	Timeframe     string                 `json:"timeframe"`
	Direction     Direction              `json:"direction"`
	Score         float64                `json:"score"`
	RawConfidence float64                `json:"raw_confidence"`
	Confidence    float64                `json:"confidence"`
	GroupScores   map[LayerGroup]float64 `json:"group_scores"`
	Contributing  []string               `json:"contributing_layers"`
	Degraded      bool                   `json:"degraded"`
	WeightVersion int64                  `json:"weight_version"`
	Timestamp     time.Time              `json:"timestamp"`
}

type SignalStatus string

const (
	SignalOpen    SignalStatus = "open"
	SignalClosed  SignalStatus = "closed"
	SignalExpired SignalStatus = "expired"
)

// Signal is a persisted ConsensusResult plus instrument identity and
// reference prices. Immutable after creation except the trade link and
// status transitions (open -> closed/expired).
type Signal struct {
	ID            int64                  `json:"id"`
	Symbol        string                 `json:"symbol"`
	Timeframe     string                 `json:"timeframe"`
	Direction     Direction              `json:"direction"`
	Score         float64                `json:"score"`
	RawConfidence float64                `json:"raw_confidence"`
	Confidence    float64                `json:"confidence"`
	GroupScores   map[LayerGroup]float64 `json:"group_scores"`
	Contributing  []string               `json:"contributing_layers"`
	Degraded      bool                   `json:"degraded"`
	WeightVersion int64                  `json:"weight_version"`
	EntryPrice    float64                `json:"entry_price"`
	TargetPrice   float64                `json:"target_price"`
	StopPrice     float64                `json:"stop_price"`
	Status        SignalStatus           `json:"status"`
	TradeID       *int64                 `json:"trade_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CreatedAt     time.Time              `json:"created_at"`
}

type ExitReason string

const (
	ExitTarget  ExitReason = "target"
	ExitStop    ExitReason = "stop"
	ExitManual  ExitReason = "manual"
	ExitTimeout ExitReason = "timeout"
)

func (r ExitReason) IsValid() bool {
	switch r {
	case ExitTarget, ExitStop, ExitManual, ExitTimeout:
		return true
	}
	return false
}

// Trade is the realized outcome reported against a Signal. Closed exactly
// once; a second close is a no-op.
type Trade struct {
	ID         int64       `json:"id"`
	SignalID   int64       `json:"signal_id"`
	EntryPrice float64     `json:"entry_price"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitPrice  *float64    `json:"exit_price,omitempty"`
	ExitTime   *time.Time  `json:"exit_time,omitempty"`
	ExitReason *ExitReason `json:"exit_reason,omitempty"`
	ProfitLoss *float64    `json:"profit_loss,omitempty"`
	Win        *bool       `json:"win,omitempty"`
	Closed     bool        `json:"closed"`
	CreatedAt  time.Time   `json:"created_at"`
}

// LayerPerformanceRecord holds rolling outcome statistics for one layer.
type LayerPerformanceRecord struct {
	Layer         string     `json:"layer"`
	Total         int        `json:"total"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	WinRate       float64    `json:"win_rate"`
	AvgProfitLoss float64    `json:"avg_profit_loss"`
	Multiplier    float64    `json:"multiplier"`
	Enabled       bool       `json:"enabled"`
	DisabledAt    *time.Time `json:"disabled_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// WeightAdjustmentEvent is one append-only entry in the weight audit log.
// The live multiplier for a layer is the fold of its events.
type WeightAdjustmentEvent struct {
	ID            int64     `json:"id"`
	Layer         string    `json:"layer"`
	OldMultiplier float64   `json:"old_multiplier"`
	NewMultiplier float64   `json:"new_multiplier"`
	WinRate       float64   `json:"win_rate"`
	SampleSize    int       `json:"sample_size"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// LayerWeight is one layer's entry in a weight snapshot.
type LayerWeight struct {
	Group      LayerGroup `json:"group"`
	BaseWeight float64    `json:"base_weight"`
	Multiplier float64    `json:"multiplier"`
	Enabled    bool       `json:"enabled"`
}

func (w LayerWeight) Weight() float64 {
	return w.BaseWeight * w.Multiplier
}

// WeightSnapshot is an immutable, versioned view of every layer weight plus
// the group weights. Aggregation reads exactly one snapshot per request, so
// a concurrent tracker publish can never produce a torn weight set.
type WeightSnapshot struct {
	Version      int64                  `json:"version"`
	TakenAt      time.Time              `json:"taken_at"`
	Layers       map[string]LayerWeight `json:"layers"`
	GroupWeights map[LayerGroup]float64 `json:"group_weights"`
}

// SignalFilter narrows signal listings.
type SignalFilter struct {
	Symbol    string
	Timeframe string
	Status    SignalStatus
	Limit     int
}
