package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const fearGreedBaseURL = "https://api.alternative.me"

// MacroClimateProvider reads the market-wide Fear & Greed index. The index is
// already on a 0..100 scale with 50 neutral, so it maps straight onto the
// layer scale; readings far from neutral carry more conviction. A stale index
// (the feed updates daily) decays confidence rather than failing the layer.
type MacroClimateProvider struct {
	client  *http.Client
	baseURL string
	limiter *RateLimiter
	tracer  trace.Tracer

	now func() time.Time
}

func NewMacroClimateProvider(tracer trace.Tracer) *MacroClimateProvider {
	return &MacroClimateProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: fearGreedBaseURL,
		limiter: NewRateLimiter(10, time.Minute),
		tracer:  tracer,
		now:     time.Now,
	}
}

func (p *MacroClimateProvider) Name() string             { return "macro-climate" }
func (p *MacroClimateProvider) Group() domain.LayerGroup { return domain.GroupMacro }

func (p *MacroClimateProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "macro-climate.evaluate")
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	value, takenAt, err := p.fetchIndex(ctx)
	if err != nil {
		return 0, 0, err
	}

	score := clamp(float64(value), 0, 100)
	unit := (score - 50) / 50
	confidence := confidenceFromStrength(unit)

	if age := p.now().Sub(takenAt); age > 24*time.Hour {
		staleness := math.Min(age.Hours()/72, 1)
		confidence = clamp(confidence*(1-0.5*staleness), 0.1, 0.95)
	}
	return score, confidence, nil
}

func (p *MacroClimateProvider) Probe(ctx context.Context) error {
	_, _, err := p.fetchIndex(ctx)
	return err
}

func (p *MacroClimateProvider) fetchIndex(ctx context.Context) (int, time.Time, error) {
	url := strings.TrimRight(p.baseURL, "/") + "/fng/?limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, time.Time{}, fmt.Errorf("fear & greed API error %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data []struct {
			Value     string `json:"value"`
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, time.Time{}, fmt.Errorf("decode fear & greed response: %w", err)
	}
	if len(payload.Data) == 0 {
		return 0, time.Time{}, fmt.Errorf("fear & greed response has no rows")
	}

	row := payload.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(row.Value))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse fear & greed value: %w", err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(row.Timestamp), 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse fear & greed timestamp: %w", err)
	}
	if ts > 1_000_000_000_000 {
		ts = ts / 1000
	}
	return value, time.Unix(ts, 0).UTC(), nil
}
