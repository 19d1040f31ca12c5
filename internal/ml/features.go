package ml

import (
	"errors"
	"math"

	"layered-signals/internal/domain"
	"layered-signals/internal/ta"
)

const (
	// featureWarmup is how many prior bars a feature vector needs.
	featureWarmup = 30

	rsiPeriod = 14
	macdFast  = 12
	macdSlow  = 26
	macdSig   = 9
	bbPeriod  = 20
	bbStdDevs = 2.0
)

var ErrInsufficientHistory = errors.New("not enough candle history for features")

var featureNames = []string{
	"ret_1", "ret_4", "ret_12",
	"vol_6", "vol_24",
	"volume_z",
	"rsi_14", "macd_hist", "bb_pos",
}

func FeatureNames() []string {
	return append([]string(nil), featureNames...)
}

// FeatureVector computes the feature row for the last candle of the series,
// using only that candle and earlier ones.
func FeatureVector(candles []domain.Candle) ([]float64, error) {
	return featureAt(candles, len(candles)-1)
}

// BuildDataset turns a chronological candle series into training rows. The
// label for row i is whether the close rose horizon bars later; rows whose
// horizon extends past the series end are excluded.
func BuildDataset(candles []domain.Candle, horizon int) ([][]float64, []bool, error) {
	if horizon <= 0 {
		horizon = 4
	}
	if len(candles) <= featureWarmup+horizon {
		return nil, nil, ErrInsufficientHistory
	}

	var samples [][]float64
	var labels []bool
	for i := featureWarmup; i+horizon < len(candles); i++ {
		row, err := featureAt(candles, i)
		if err != nil {
			continue
		}
		samples = append(samples, row)
		labels = append(labels, candles[i+horizon].Close > candles[i].Close)
	}
	if len(samples) == 0 {
		return nil, nil, ErrInsufficientHistory
	}
	return samples, labels, nil
}

func featureAt(candles []domain.Candle, idx int) ([]float64, error) {
	if idx < featureWarmup || idx >= len(candles) {
		return nil, ErrInsufficientHistory
	}
	window := candles[:idx+1]
	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := closes[len(closes)-1]
	if last <= 0 {
		return nil, ErrInsufficientHistory
	}

	ret1 := lagReturn(closes, 1)
	ret4 := lagReturn(closes, 4)
	ret12 := lagReturn(closes, 12)

	rets := ta.Returns(closes)
	_, vol6 := ta.MeanStd(tail(rets, 6))
	_, vol24 := ta.MeanStd(tail(rets, 24))

	volZ := ta.VolumeZScore(volumes, 24)
	if math.IsNaN(volZ) {
		volZ = 0
	}

	rsi := ta.RSI(closes, rsiPeriod)
	macdLine, macdSignal := ta.MACD(closes, macdFast, macdSlow, macdSig)
	macdHist := (macdLine - macdSignal) / last
	bbPos, _ := ta.BollingerPosition(closes, bbPeriod, bbStdDevs)

	row := []float64{ret1, ret4, ret12, vol6, vol24, volZ, rsi, macdHist, bbPos}
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrInsufficientHistory
		}
	}
	return row, nil
}

func lagReturn(closes []float64, lag int) float64 {
	n := len(closes)
	if n <= lag || closes[n-1-lag] == 0 {
		return math.NaN()
	}
	return closes[n-1]/closes[n-1-lag] - 1
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
