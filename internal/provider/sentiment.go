package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"layered-signals/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// Headline is one piece of market chatter to score.
type Headline struct {
	Title       string
	Excerpt     string
	PublishedAt time.Time
}

type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error)
}

// HeadlineScore is an LLM refinement for one headline, scored on [-1, 1].
type HeadlineScore struct {
	Index      int
	Score      float64
	Confidence float64
}

type BatchScorer interface {
	ScoreBatch(ctx context.Context, headlines []Headline) ([]HeadlineScore, error)
}

// SentimentProvider scores recent market chatter. Every headline gets a
// keyword-heuristic baseline; an optional LLM scorer refines the batch and is
// strictly best-effort: its failure never fails the layer.
type SentimentProvider struct {
	source HeadlineSource
	llm    BatchScorer
	tracer trace.Tracer
}

func NewSentimentProvider(source HeadlineSource, llm BatchScorer, tracer trace.Tracer) *SentimentProvider {
	return &SentimentProvider{source: source, llm: llm, tracer: tracer}
}

func (p *SentimentProvider) Name() string             { return "crowd-sentiment" }
func (p *SentimentProvider) Group() domain.LayerGroup { return domain.GroupSentiment }

func (p *SentimentProvider) Evaluate(ctx context.Context, symbol, timeframe string, asOf time.Time) (float64, float64, error) {
	ctx, span := p.tracer.Start(ctx, "crowd-sentiment.evaluate")
	defer span.End()

	headlines, err := p.source.Headlines(ctx, symbol, 40)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch headlines: %w", err)
	}
	if len(headlines) == 0 {
		return 0, 0, fmt.Errorf("no headlines for %s", symbol)
	}

	scores := make([]float64, len(headlines))
	confidences := make([]float64, len(headlines))
	for i, h := range headlines {
		scores[i], confidences[i] = heuristicSentiment(h.Title, h.Excerpt)
	}

	if p.llm != nil {
		refined, err := p.llm.ScoreBatch(ctx, headlines)
		if err != nil {
			log.Printf("llm sentiment refinement failed, keeping heuristic scores: %v", err)
		} else {
			for _, row := range refined {
				if row.Index < 0 || row.Index >= len(headlines) {
					continue
				}
				scores[row.Index] = clamp(row.Score, -1, 1)
				confidences[row.Index] = clamp(row.Confidence, 0, 1)
			}
		}
	}

	var weightedSum, confSum float64
	for i := range scores {
		weightedSum += scores[i] * confidences[i]
		confSum += confidences[i]
	}
	if confSum == 0 {
		return 0, 0, fmt.Errorf("no scorable headlines for %s", symbol)
	}
	unit := clamp(weightedSum/confSum, -1, 1)

	// Breadth matters: ten headlines agreeing beats two.
	breadth := clamp(float64(len(headlines))/40.0, 0, 1)
	confidence := clamp((confSum/float64(len(scores)))*(0.5+0.5*breadth), 0.1, 0.9)

	return scoreFromUnit(unit), confidence, nil
}

func (p *SentimentProvider) Probe(ctx context.Context) error {
	_, err := p.source.Headlines(ctx, "BTC", 1)
	return err
}

func heuristicSentiment(title, excerpt string) (float64, float64) {
	text := strings.ToLower(strings.TrimSpace(title + " " + excerpt))
	if text == "" {
		return 0, 0.2
	}

	bullish := []string{"bull", "breakout", "surge", "rally", "adoption", "outflow", "growth", "buy", "uptrend", "recover", "ath"}
	bearish := []string{"bear", "dump", "sell", "crash", "hack", "lawsuit", "ban", "inflow", "decline", "downtrend", "liquidation", "exploit"}

	bullCount := countMatches(text, bullish)
	bearCount := countMatches(text, bearish)

	score := clamp(float64(bullCount-bearCount)/float64(bullCount+bearCount+1), -1, 1)
	confidence := clamp(0.35+0.1*mathAbsInt(bullCount-bearCount), 0.25, 0.70)
	return score, confidence
}

func countMatches(text string, tokens []string) int {
	count := 0
	for _, token := range tokens {
		if strings.Contains(text, token) {
			count++
		}
	}
	return count
}

func mathAbsInt(v int) float64 {
	if v < 0 {
		v = -v
	}
	return float64(v)
}

const (
	redditBaseURL   = "https://www.reddit.com"
	defaultRedditUA = "layered-signals/1.0"
)

// symbolQueries maps tickers to search terms that actually match chatter.
var symbolQueries = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana", "XRP": "xrp",
	"ADA": "cardano", "DOGE": "dogecoin", "DOT": "polkadot",
	"AVAX": "avalanche", "LINK": "chainlink",
}

// RedditHeadlineSource pulls recent posts mentioning the instrument from
// r/CryptoCurrency.
type RedditHeadlineSource struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *RateLimiter
	tracer    trace.Tracer
}

func NewRedditHeadlineSource(tracer trace.Tracer) *RedditHeadlineSource {
	return &RedditHeadlineSource{
		client:    &http.Client{Timeout: 20 * time.Second},
		baseURL:   redditBaseURL,
		userAgent: defaultRedditUA,
		limiter:   NewRateLimiter(30, time.Minute),
		tracer:    tracer,
	}
}

func (s *RedditHeadlineSource) Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error) {
	_, span := s.tracer.Start(ctx, "reddit-headlines.fetch")
	defer span.End()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 40
	}
	query := symbolQueries[symbol]
	if query == "" {
		query = strings.ToLower(symbol)
	}

	u := fmt.Sprintf("%s/r/CryptoCurrency/search.json?q=%s&restrict_sr=on&sort=new&limit=%d",
		strings.TrimRight(s.baseURL, "/"), url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reddit API error %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Children []struct {
				Data struct {
					Title      string  `json:"title"`
					SelfText   string  `json:"selftext"`
					CreatedUTC float64 `json:"created_utc"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode reddit response: %w", err)
	}

	out := make([]Headline, 0, len(payload.Data.Children))
	for _, row := range payload.Data.Children {
		title := sanitizeText(row.Data.Title, 300)
		if title == "" {
			continue
		}
		out = append(out, Headline{
			Title:       title,
			Excerpt:     sanitizeText(row.Data.SelfText, 420),
			PublishedAt: time.Unix(int64(row.Data.CreatedUTC), 0).UTC(),
		})
	}
	return out, nil
}

func sanitizeText(in string, maxLen int) string {
	in = strings.Join(strings.Fields(strings.TrimSpace(in)), " ")
	if maxLen > 0 && len(in) > maxLen {
		in = in[:maxLen]
	}
	return in
}
