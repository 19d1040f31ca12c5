package ta

import "math"

func MeanStd(values []float64) (float64, float64) {
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
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the latest Wilder-smoothed RSI value, or NaN when the series
// is too short.
func RSI(closes []float64, period int) float64 {
	if len(closes) <= period || period <= 0 {
		return math.NaN()
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	return rsiFromAvg(avgGain, avgLoss)
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the latest MACD line and signal line values.
func MACD(values []float64, fast, slow, signal int) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	macdLine := make([]float64, len(values))
	for i := range values {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := EMASeries(macdLine, signal)
	return macdLine[len(macdLine)-1], signalLine[len(signalLine)-1]
}

// BollingerPosition returns where the last close sits inside its band,
// normalized to [-1,1] (0 = on the middle band), plus the relative band
// width. NaN when the series is too short.
func BollingerPosition(values []float64, period int, stdDevs float64) (float64, float64) {
	if period <= 0 || len(values) < period {
		return math.NaN(), math.NaN()
	}
	window := values[len(values)-period:]
	mean, std := MeanStd(window)
	if std == 0 || mean == 0 {
		return 0, 0
	}
	last := values[len(values)-1]
	pos := (last - mean) / (stdDevs * std)
	width := (2 * stdDevs * std) / mean
	return clampUnit(pos), width
}

// VolumeZScore measures how unusual the latest volume is against the
// lookback window.
func VolumeZScore(volumes []float64, lookback int) float64 {
	if lookback <= 1 || len(volumes) < lookback {
		return math.NaN()
	}
	window := volumes[len(volumes)-lookback:]
	mean, std := MeanStd(window[:len(window)-1])
	if std == 0 {
		return 0
	}
	return (window[len(window)-1] - mean) / std
}

// Returns computes simple period-over-period returns for a close series.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
