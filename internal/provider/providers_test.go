package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

type fakeCandles struct {
	candles []domain.Candle
	err     error
}

func (f *fakeCandles) CandlesBefore(ctx context.Context, symbol, timeframe string, asOf time.Time, limit int) ([]domain.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.candles) {
		return f.candles[len(f.candles)-limit:], nil
	}
	return f.candles, nil
}

// trendingCandles builds a steadily rising series with steady volume.
func trendingCandles(n int, start, step float64) []domain.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	price := start
	for i := range out {
		price += step
		out[i] = domain.Candle{
			Symbol: "BTC", Timeframe: "1h",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price - step, High: price * 1.005, Low: price * 0.995,
			Close: price, Volume: 1000,
		}
	}
	return out
}

func TestTechnicalProviderUptrendScoresLong(t *testing.T) {
	t.Parallel()

	p := NewTechnicalProvider(&fakeCandles{candles: trendingCandles(120, 50000, 150)}, testTracer)
	score, confidence, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score <= 55 {
		t.Fatalf("a steady uptrend should score above neutral, got %f", score)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("confidence out of range: %f", confidence)
	}
}

func TestTechnicalProviderDowntrendScoresShort(t *testing.T) {
	t.Parallel()

	p := NewTechnicalProvider(&fakeCandles{candles: trendingCandles(120, 80000, -150)}, testTracer)
	score, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score >= 45 {
		t.Fatalf("a steady downtrend should score below neutral, got %f", score)
	}
}

func TestTechnicalProviderInsufficientHistoryFails(t *testing.T) {
	t.Parallel()

	p := NewTechnicalProvider(&fakeCandles{candles: trendingCandles(10, 50000, 100)}, testTracer)
	if _, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now()); err == nil {
		t.Fatal("expected an error for thin history")
	}

	p = NewTechnicalProvider(&fakeCandles{err: errors.New("db down")}, testTracer)
	if _, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now()); err == nil {
		t.Fatal("expected the source error to surface")
	}
}

type fakeHeadlines struct {
	headlines []Headline
	err       error
}

func (f *fakeHeadlines) Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error) {
	return f.headlines, f.err
}

type fakeLLM struct {
	scores []HeadlineScore
	err    error
	calls  int
}

func (f *fakeLLM) ScoreBatch(ctx context.Context, headlines []Headline) ([]HeadlineScore, error) {
	f.calls++
	return f.scores, f.err
}

func TestSentimentProviderBullishChatter(t *testing.T) {
	t.Parallel()

	p := NewSentimentProvider(&fakeHeadlines{headlines: []Headline{
		{Title: "BTC breakout incoming, rally gaining adoption"},
		{Title: "exchange outflow surge, uptrend intact"},
		{Title: "buy pressure building"},
	}}, nil, testTracer)

	score, confidence, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score <= 50 {
		t.Fatalf("bullish chatter should score above neutral, got %f", score)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("confidence out of range: %f", confidence)
	}
}

func TestSentimentProviderNoHeadlinesFails(t *testing.T) {
	t.Parallel()

	p := NewSentimentProvider(&fakeHeadlines{}, nil, testTracer)
	if _, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now()); err == nil {
		t.Fatal("an empty feed must fail the layer, not default to neutral")
	}
}

func TestSentimentProviderLLMRefinesScores(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{scores: []HeadlineScore{{Index: 0, Score: -0.9, Confidence: 0.9}}}
	p := NewSentimentProvider(&fakeHeadlines{headlines: []Headline{
		{Title: "protocol update shipped"}, // heuristically neutral
	}}, llm, testTracer)

	score, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score >= 50 {
		t.Fatalf("llm refinement should pull the score bearish, got %f", score)
	}
	if llm.calls != 1 {
		t.Fatalf("expected one llm batch, got %d", llm.calls)
	}
}

func TestSentimentProviderLLMFailureKeepsHeuristics(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{err: errors.New("quota exceeded")}
	p := NewSentimentProvider(&fakeHeadlines{headlines: []Headline{
		{Title: "massive rally and breakout"},
	}}, llm, testTracer)

	score, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("llm failure must not fail the layer: %v", err)
	}
	if score <= 50 {
		t.Fatalf("heuristic baseline should survive the llm failure, got %f", score)
	}
}

func TestRedditHeadlineSourceParsesPosts(t *testing.T) {
	t.Parallel()

	s := NewRedditHeadlineSource(testTracer)
	s.client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("q") != "bitcoin" {
			t.Fatalf("unexpected query: %s", req.URL.RawQuery)
		}
		body := `{"data":{"children":[
			{"data":{"title":"BTC to the moon","selftext":"rally time","created_utc":1771009800}},
			{"data":{"title":"","selftext":"skipped"}}
		]}}`
		return jsonResponse(body), nil
	})}

	headlines, err := s.Headlines(context.Background(), "BTC", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(headlines) != 1 {
		t.Fatalf("expected one usable headline, got %d", len(headlines))
	}
	if headlines[0].Title != "BTC to the moon" {
		t.Fatalf("unexpected title: %q", headlines[0].Title)
	}
}

func TestOnChainActivityProviderScoresBusyNetwork(t *testing.T) {
	t.Parallel()

	p := NewOnChainActivityProvider(testTracer, "https://example.com")
	p.client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/statistics/24h" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		body := `[{"count":280000,"vbytes_per_second":3400,"min_fee":6,"total_fee":9500000}]`
		return jsonResponse(body), nil
	})}

	score, confidence, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score <= 50 {
		t.Fatalf("a busy network should score above neutral, got %f", score)
	}
	if confidence <= 0 || confidence > 1 {
		t.Fatalf("confidence out of range: %f", confidence)
	}
}

func TestOnChainActivityProviderUpstreamErrorFails(t *testing.T) {
	t.Parallel()

	p := NewOnChainActivityProvider(testTracer, "https://example.com")
	p.client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(bytes.NewBufferString("upstream down")),
			Header:     make(http.Header),
		}, nil
	})}

	if _, _, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now()); err == nil {
		t.Fatal("expected upstream error to fail the layer")
	}
}

func TestMacroClimateProviderMapsIndexDirectly(t *testing.T) {
	t.Parallel()

	p := NewMacroClimateProvider(testTracer)
	p.now = func() time.Time { return time.Unix(1771009800, 0).UTC() }
	p.client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body := `{"data":[{"value":"78","timestamp":"1771009800"}]}`
		return jsonResponse(body), nil
	})}

	score, confidence, err := p.Evaluate(context.Background(), "BTC", "1d", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 78 {
		t.Fatalf("expected the index value as the score, got %f", score)
	}
	if confidence <= 0.35 {
		t.Fatalf("a strong-greed reading should carry conviction, got %f", confidence)
	}
}

func TestMacroClimateProviderStaleIndexDecaysConfidence(t *testing.T) {
	t.Parallel()

	fresh := NewMacroClimateProvider(testTracer)
	stale := NewMacroClimateProvider(testTracer)
	body := `{"data":[{"value":"78","timestamp":"1771009800"}]}`
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(body), nil
	})
	fresh.client = &http.Client{Transport: transport}
	stale.client = &http.Client{Transport: transport}
	fresh.now = func() time.Time { return time.Unix(1771009800, 0).UTC() }
	stale.now = func() time.Time { return time.Unix(1771009800, 0).UTC().Add(60 * time.Hour) }

	_, freshConf, err := fresh.Evaluate(context.Background(), "BTC", "1d", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, staleConf, err := stale.Evaluate(context.Background(), "BTC", "1d", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if staleConf >= freshConf {
		t.Fatalf("stale index must carry less confidence: fresh=%f stale=%f", freshConf, staleConf)
	}
}

func TestMarketRiskProviderBoundsAndErrors(t *testing.T) {
	t.Parallel()

	p := NewMarketRiskProvider(&fakeCandles{candles: trendingCandles(120, 50000, 50)}, testTracer)
	score, confidence, err := p.Evaluate(context.Background(), "BTC", "1h", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0 || score > 100 {
		t.Fatalf("score out of range: %f", score)
	}
	if confidence < 0 || confidence > 1 {
		t.Fatalf("confidence out of range: %f", confidence)
	}

	thin := NewMarketRiskProvider(&fakeCandles{candles: trendingCandles(15, 50000, 50)}, testTracer)
	if _, _, err := thin.Evaluate(context.Background(), "BTC", "1h", time.Now()); err == nil {
		t.Fatal("expected an error for thin history")
	}
}

func TestRiskFeaturesShape(t *testing.T) {
	t.Parallel()

	features := riskFeatures(trendingCandles(120, 50000, 50))
	if len(features) == 0 {
		t.Fatal("expected feature rows")
	}
	for _, row := range features {
		if len(row) != 4 {
			t.Fatalf("expected 4 features per row, got %d", len(row))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("feature row contains NaN/Inf: %v", row)
			}
		}
	}
}

func TestRateLimiterBlocksAndRefills(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(2, 20*time.Millisecond)
	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("expected two immediate tokens")
	}
	if limiter.Allow() {
		t.Fatal("bucket should be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("Wait returned before a token could have refilled")
	}
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, time.Hour)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
