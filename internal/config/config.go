package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"layered-signals/internal/domain"
)

type Config struct {
	DatabaseURL      string
	RedisURL         string
	APIKey           string
	TelegramBotToken string
	TelegramChatID   int64

	OpenAIAPIKey string
	OpenAIModel  string

	// Layer invocation
	LayerTimeoutSecs        int
	BreakerFailureThreshold int
	BreakerCooldownSecs     int
	BreakerMaxBackoffFactor int

	// Consensus
	LongThreshold  float64
	ShortThreshold float64
	GroupWeights   map[domain.LayerGroup]float64

	// Calibration
	CalibrationMinSamples  int
	CalibrationDeviation   float64
	CalibrationUpwardCap   float64
	CalibrationRefreshSecs int

	// Adaptive tracker
	TrackerMinSamples    int
	ContributionBand     float64
	DisableCooldownHours int

	// Jobs
	SchedulerIntervalSecs int
	SchedulerTimeframes   []string
	TradeMaxAgeHours      int
	LearningRefreshSecs   int

	// Reference prices
	TargetPct float64
	StopPct   float64

	// Backtest defaults
	CommissionRate float64
	SlippageRate   float64
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, sentiment layer falls back to heuristics")
	}

	cfg.TelegramChatID = envInt64("TELEGRAM_CHAT_ID", 0)

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.LayerTimeoutSecs = envInt("LAYER_TIMEOUT_SECS", 10)
	cfg.BreakerFailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerCooldownSecs = envInt("BREAKER_COOLDOWN_SECS", 60)
	cfg.BreakerMaxBackoffFactor = envInt("BREAKER_MAX_BACKOFF_FACTOR", 8)

	cfg.LongThreshold = envFloat("CONSENSUS_LONG_THRESHOLD", 60)
	cfg.ShortThreshold = envFloat("CONSENSUS_SHORT_THRESHOLD", 40)
	if cfg.ShortThreshold >= cfg.LongThreshold {
		log.Printf("Warning: short threshold %.1f >= long threshold %.1f, restoring defaults", cfg.ShortThreshold, cfg.LongThreshold)
		cfg.LongThreshold = 60
		cfg.ShortThreshold = 40
	}
	cfg.GroupWeights = parseGroupWeights(os.Getenv("CONSENSUS_GROUP_WEIGHTS"))

	cfg.CalibrationMinSamples = envInt("CALIBRATION_MIN_SAMPLES", 20)
	cfg.CalibrationDeviation = envFloat("CALIBRATION_DEVIATION", 0.10)
	cfg.CalibrationUpwardCap = envFloat("CALIBRATION_UPWARD_CAP", 0.10)
	cfg.CalibrationRefreshSecs = envInt("CALIBRATION_REFRESH_SECS", 300)

	cfg.TrackerMinSamples = envInt("TRACKER_MIN_SAMPLES", 20)
	cfg.ContributionBand = envFloat("TRACKER_CONTRIBUTION_BAND", 10)
	cfg.DisableCooldownHours = envInt("TRACKER_DISABLE_COOLDOWN_HOURS", 72)

	cfg.SchedulerIntervalSecs = envInt("SCHEDULER_INTERVAL_SECS", 3600)
	cfg.SchedulerTimeframes = parseTimeframes(os.Getenv("SCHEDULER_TIMEFRAMES"))
	cfg.TradeMaxAgeHours = envInt("TRADE_MAX_AGE_HOURS", 48)
	cfg.LearningRefreshSecs = envInt("LEARNING_REFRESH_SECS", 300)

	cfg.TargetPct = envFloat("SIGNAL_TARGET_PCT", 0.03)
	cfg.StopPct = envFloat("SIGNAL_STOP_PCT", 0.015)

	cfg.CommissionRate = envFloat("BACKTEST_COMMISSION_RATE", 0.001)
	cfg.SlippageRate = envFloat("BACKTEST_SLIPPAGE_RATE", 0.0005)

	return cfg
}

// DefaultGroupWeights is the nominal group split used when the environment
// does not override it. Sums to 1.0.
func DefaultGroupWeights() map[domain.LayerGroup]float64 {
	return map[domain.LayerGroup]float64{
		domain.GroupTechnical: 0.30,
		domain.GroupSentiment: 0.20,
		domain.GroupOnChain:   0.20,
		domain.GroupMacro:     0.15,
		domain.GroupRisk:      0.15,
	}
}

// parseGroupWeights reads "technical=0.30,sentiment=0.20,..." and falls back
// to the defaults when the value is missing or does not sum near 1.0.
func parseGroupWeights(raw string) map[domain.LayerGroup]float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultGroupWeights()
	}
	out := make(map[domain.LayerGroup]float64)
	sum := 0.0
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			log.Printf("Warning: invalid group weight entry %q, using defaults", part)
			return DefaultGroupWeights()
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil || w < 0 {
			log.Printf("Warning: invalid group weight value %q, using defaults", kv[1])
			return DefaultGroupWeights()
		}
		out[domain.LayerGroup(strings.ToLower(strings.TrimSpace(kv[0])))] = w
		sum += w
	}
	if sum < 0.99 || sum > 1.01 {
		log.Printf("Warning: group weights sum to %.4f, using defaults", sum)
		return DefaultGroupWeights()
	}
	return out
}

func parseTimeframes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"1h", "4h"}
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		tf := strings.TrimSpace(part)
		if !domain.IsSupportedTimeframe(tf) {
			log.Printf("Warning: unsupported timeframe %q ignored", tf)
			continue
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return []string{"1h", "4h"}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %g", key, v, fallback)
	}
	return fallback
}
