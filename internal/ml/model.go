package ml

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:       40,
		LearningRate: 0.08,
		MaxDepth:     4,
	}
}

// Model is a gradient-boosted classifier predicting whether the close will be
// higher after the forecast horizon.
type Model struct {
	featureNames []string
	boost        *boo.MultiClass
}

type modelArtifact struct {
	FeatureNames []string `json:"feature_names"`
	ModelText    string   `json:"model_text"`
}

// TrainModel fits a boosted tree on the dataset. Both classes must be present;
// a market that only ever went one way has nothing to learn from.
func TrainModel(samples [][]float64, labels []bool, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	if len(featureNames) != len(samples[0]) {
		return nil, errors.New("feature name count does not match sample width")
	}

	intLabels := make([]int, len(labels))
	classes := make(map[int]struct{}, 2)
	for i, up := range labels {
		if up {
			intLabels[i] = 1
		}
		classes[intLabels[i]] = struct{}{}
	}
	if len(classes) < 2 {
		return nil, errors.New("training requires both up and down outcomes")
	}

	defaults := DefaultTrainOptions()
	if opts.Rounds <= 0 {
		opts.Rounds = defaults.Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = defaults.LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaults.MaxDepth
	}

	o := boo.DefaultXOptions()
	o.Rounds = opts.Rounds
	o.LearningRate = opts.LearningRate
	o.MaxDepth = opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	data := &utils.DataBunch{
		Data:   samples,
		Labels: intLabels,
		Keys:   featureNames,
	}
	boost := boo.NewMultiClass(data, o)
	if boost == nil {
		return nil, errors.New("boosting failed to produce a model")
	}
	return &Model{featureNames: append([]string(nil), featureNames...), boost: boost}, nil
}

// UpProbability returns P(close rises over the horizon) for one feature
// vector. A nil model is maximally uncertain.
func (m *Model) UpProbability(sample []float64) float64 {
	if m == nil || m.boost == nil {
		return 0.5
	}
	probs := m.boost.PredictSingle(sample)
	for i, label := range m.boost.ClassLabels() {
		if label == 1 {
			return clampProb(probs[i])
		}
	}
	if len(probs) == 0 {
		return 0.5
	}
	return clampProb(probs[len(probs)-1])
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.featureNames...)
}

// Encode serializes the model for the registry.
func (m *Model) Encode() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(modelArtifact{
		FeatureNames: m.featureNames,
		ModelText:    buf.String(),
	})
}

func DecodeModel(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a modelArtifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	boost, err := boo.UnJSONMultiClass(bufio.NewReader(bytes.NewReader([]byte(a.ModelText))))
	if err != nil {
		return nil, err
	}
	return &Model{featureNames: append([]string(nil), a.FeatureNames...), boost: boost}, nil
}

func clampProb(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
