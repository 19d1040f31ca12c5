package domain

import "time"

// Candle represents a single OHLCV candle for an instrument at a given timeframe.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SupportedSymbols lists all tracked instruments.
var SupportedSymbols = []string{
	"BTC", "ETH", "SOL", "XRP", "ADA",
	"DOGE", "DOT", "AVAX", "LINK",
}

// SupportedTimeframes defines the request granularities the engine serves.
var SupportedTimeframes = []string{"1h", "4h", "1d"}

// TimeframeDuration maps a timeframe string to its bucket duration.
var TimeframeDuration = map[string]time.Duration{
	"1h": time.Hour,
	"4h": 4 * time.Hour,
	"1d": 24 * time.Hour,
}

func IsSupportedSymbol(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func IsSupportedTimeframe(timeframe string) bool {
	_, ok := TimeframeDuration[timeframe]
	return ok
}

// SignalHorizon is how long a signal stays actionable before it expires:
// four buckets of its timeframe.
func SignalHorizon(timeframe string) time.Duration {
	d, ok := TimeframeDuration[timeframe]
	if !ok {
		d = time.Hour
	}
	return 4 * d
}
