package ml

import (
	"math"
	"testing"
)

// separableDataset builds rows where the first feature alone decides the
// label, with small deterministic wobble on the rest.
func separableDataset(n int) ([][]float64, []bool) {
	width := len(featureNames)
	samples := make([][]float64, n)
	labels := make([]bool, n)
	for i := range samples {
		up := i%2 == 0
		row := make([]float64, width)
		if up {
			row[0] = 0.4 + 0.05*math.Sin(float64(i))
		} else {
			row[0] = -0.4 - 0.05*math.Cos(float64(i))
		}
		for j := 1; j < width; j++ {
			row[j] = 0.01 * math.Sin(float64(i*j))
		}
		samples[i] = row
		labels[i] = up
	}
	return samples, labels
}

func TestTrainModelLearnsSeparableData(t *testing.T) {
	t.Parallel()

	samples, labels := separableDataset(300)
	model, err := TrainModel(samples, labels, featureNames, TrainOptions{})
	if err != nil {
		t.Fatalf("TrainModel: %v", err)
	}

	up := make([]float64, len(featureNames))
	up[0] = 0.45
	if p := model.UpProbability(up); p < 0.7 {
		t.Errorf("expected high up-probability for positive momentum, got %.3f", p)
	}

	down := make([]float64, len(featureNames))
	down[0] = -0.45
	if p := model.UpProbability(down); p > 0.3 {
		t.Errorf("expected low up-probability for negative momentum, got %.3f", p)
	}
}

func TestTrainModelRejectsSingleClass(t *testing.T) {
	t.Parallel()

	samples, _ := separableDataset(50)
	labels := make([]bool, len(samples))
	for i := range labels {
		labels[i] = true
	}
	if _, err := TrainModel(samples, labels, featureNames, TrainOptions{}); err == nil {
		t.Fatal("expected error for single-class dataset")
	}
}

func TestEncodeDecodeRoundTripPreservesPredictions(t *testing.T) {
	t.Parallel()

	samples, labels := separableDataset(200)
	model, err := TrainModel(samples, labels, featureNames, TrainOptions{Rounds: 20})
	if err != nil {
		t.Fatalf("TrainModel: %v", err)
	}

	blob, err := model.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeModel(blob)
	if err != nil {
		t.Fatalf("DecodeModel: %v", err)
	}

	for i := 0; i < len(samples); i += 17 {
		want := model.UpProbability(samples[i])
		got := decoded.UpProbability(samples[i])
		if math.Abs(want-got) > 1e-6 {
			t.Fatalf("prediction drifted after round trip: row %d want %.6f got %.6f", i, want, got)
		}
	}
	if got := decoded.FeatureNames(); len(got) != len(featureNames) {
		t.Errorf("feature names lost in round trip: got %d, want %d", len(got), len(featureNames))
	}
}

func TestNilModelIsMaximallyUncertain(t *testing.T) {
	t.Parallel()

	var m *Model
	if p := m.UpProbability([]float64{1, 2, 3}); p != 0.5 {
		t.Errorf("nil model probability = %.3f, want 0.5", p)
	}
}

func TestDecodeModelRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeModel(nil); err == nil {
		t.Error("expected error for empty artifact")
	}
	if _, err := DecodeModel([]byte("not json")); err == nil {
		t.Error("expected error for malformed artifact")
	}
}
