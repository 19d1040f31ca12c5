package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const mempoolBaseURL = "https://mempool.space"

// activityBaseline holds the per-symbol normalization anchors for network
// activity readings: the typical value and the span that maps to a full-scale
// move.
type activityBaseline struct {
	txCenter, txSpan       float64
	loadCenter, loadSpan   float64
	feeCenter, feeSpan     float64
	totalCenter, totalSpan float64
}

var activityBaselines = map[string]activityBaseline{
	"BTC": {
		txCenter: 120000, txSpan: 180000,
		loadCenter: 1200, loadSpan: 2400,
		feeCenter: 5, feeSpan: 40,
		totalCenter: 2_000_000, totalSpan: 8_000_000,
	},
}

var defaultActivityBaseline = activityBaseline{
	txCenter: 50000, txSpan: 100000,
	loadCenter: 500, loadSpan: 1000,
	feeCenter: 1, feeSpan: 10,
	totalCenter: 500_000, totalSpan: 2_000_000,
}

// OnChainActivityProvider scores network usage from mempool-style 24h
// statistics. Rising transaction counts and throughput read as adoption
// pressure; a fee squeeze reads as congestion and drags the score down.
type OnChainActivityProvider struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
	tracer  trace.Tracer
}

func NewOnChainActivityProvider(tracer trace.Tracer, baseURL string) *OnChainActivityProvider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = mempoolBaseURL
	}
	return &OnChainActivityProvider{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: NewRateLimiter(20, time.Minute),
		tracer:  tracer,
	}
}

func (p *OnChainActivityProvider) Name() string             { return "chain-activity" }
func (p *OnChainActivityProvider) Group() domain.LayerGroup { return domain.GroupOnChain }

func (p *OnChainActivityProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "chain-activity.evaluate")
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	stats, err := p.fetchStats(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}

	baseline, ok := activityBaselines[symbol]
	if !ok {
		baseline = defaultActivityBaseline
	}
	countNorm := clamp((stats.Count-baseline.txCenter)/baseline.txSpan, -1, 1)
	throughputNorm := clamp((stats.VBytesPerSecond-baseline.loadCenter)/baseline.loadSpan, -1, 1)
	feeLoadNorm := clamp((stats.MinFee-baseline.feeCenter)/baseline.feeSpan, -1, 1)
	totalFeeNorm := clamp((stats.TotalFee-baseline.totalCenter)/baseline.totalSpan, -1, 1)

	unit := clamp(0.35*countNorm+0.35*throughputNorm+0.15*totalFeeNorm-0.15*feeLoadNorm, -1, 1)
	return scoreFromUnit(unit), confidenceFromStrength(unit), nil
}

func (p *OnChainActivityProvider) Probe(ctx context.Context) error {
	_, err := p.fetchStats(ctx, "BTC")
	return err
}

type activityStats struct {
	Count           float64 `json:"count"`
	VBytesPerSecond float64 `json:"vbytes_per_second"`
	MinFee          float64 `json:"min_fee"`
	TotalFee        float64 `json:"total_fee"`
}

func (p *OnChainActivityProvider) fetchStats(ctx context.Context, symbol string) (activityStats, error) {
	path := "/api/v1/statistics/24h"
	if symbol != "BTC" {
		path = fmt.Sprintf("/api/v1/statistics/%s/24h", strings.ToLower(symbol))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return activityStats{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return activityStats{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return activityStats{}, fmt.Errorf("chain activity API error %d: %s", resp.StatusCode, string(body))
	}

	var rows []activityStats
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return activityStats{}, fmt.Errorf("decode chain activity payload: %w", err)
	}
	if len(rows) == 0 {
		return activityStats{}, fmt.Errorf("chain activity payload has no rows")
	}
	return rows[0], nil
}
