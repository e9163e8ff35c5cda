// Package ensemble combines three small models over the URL feature vector:
// a logistic regression, a boosted correction and a set of decision stumps.
package ensemble

import (
	"math"

	"github.com/mehrguard/mehrguard/internal/features"
)

// Sub-model names as reported in Prediction.Dominant.
const (
	ModelLogistic = "logistic"
	ModelBoosted  = "boosted"
	ModelStumps   = "stumps"
)

// Blend weights for the three sub-models.
const (
	WeightLogistic = 0.5
	WeightBoosted  = 0.3
	WeightStumps   = 0.2
)

// maxExponent bounds the sigmoid argument so exp never overflows.
const maxExponent = 60.0

// Prediction is the ensemble output with per-model diagnostics.
type Prediction struct {
	Probability float64 `json:"probability"`
	Logistic    float64 `json:"logistic"`
	Boosted     float64 `json:"boosted"`
	Stumps      float64 `json:"stumps"`
	// Agreement is 1 minus the spread between the highest and lowest
	// sub-model score.
	Agreement  float64 `json:"agreement"`
	Dominant   string  `json:"dominant"`
	Confidence float64 `json:"confidence"`
	// Fired lists the boosted stages and stumps that applied.
	Fired []string `json:"fired,omitempty"`
	// Valid is false when the input vector was rejected and the neutral
	// prediction returned instead.
	Valid bool `json:"valid"`
	// ModelVersion identifies the logistic weight set.
	ModelVersion string `json:"model_version"`
}

// Model is immutable and safe for concurrent use.
type Model struct {
	logistic Logistic
	boosted  Boosted
	stumps   Stumps
}

// New assembles a model from its parts.
func New(l Logistic, b Boosted, s Stumps) *Model {
	return &Model{logistic: l, boosted: b, stumps: s}
}

// Default returns the bundled model.
func Default() *Model {
	return New(DefaultLogistic(), DefaultBoosted(), DefaultStumps())
}

// Neutral is returned for unusable input.
func (m *Model) neutral() Prediction {
	return Prediction{
		Probability:  0.5,
		Logistic:     0.5,
		Boosted:      0.5,
		Stumps:       0.5,
		Agreement:    1,
		Dominant:     ModelLogistic,
		Confidence:   0,
		ModelVersion: m.logistic.Version,
	}
}

// Predict scores x. A vector of the wrong length or with non-finite values
// yields probability 0.5 and confidence 0.
func (m *Model) Predict(x []float64) Prediction {
	if len(x) != features.Size {
		return m.neutral()
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return m.neutral()
		}
	}

	lr := m.logistic.Score(x)
	boost, firedStages := m.boosted.Score(x)
	st, firedStumps := m.stumps.Score(x)

	p := clamp01(WeightLogistic*lr + WeightBoosted*boost + WeightStumps*st)
	spread := math.Max(lr, math.Max(boost, st)) - math.Min(lr, math.Min(boost, st))
	agreement := clamp01(1 - spread)
	extremity := math.Abs(p-0.5) * 2

	pred := Prediction{
		Probability:  p,
		Logistic:     lr,
		Boosted:      boost,
		Stumps:       st,
		Agreement:    agreement,
		Dominant:     dominant(lr, boost, st),
		Confidence:   clamp01(extremity*0.6 + agreement*0.4),
		Valid:        true,
		ModelVersion: m.logistic.Version,
	}
	pred.Fired = append(pred.Fired, firedStages...)
	pred.Fired = append(pred.Fired, firedStumps...)
	return pred
}

// dominant names the sub-model with the largest weighted contribution.
// Ties go to the earlier model.
func dominant(lr, boost, st float64) string {
	name, best := ModelLogistic, WeightLogistic*lr
	if c := WeightBoosted * boost; c > best {
		name, best = ModelBoosted, c
	}
	if c := WeightStumps * st; c > best {
		name = ModelStumps
	}
	return name
}

// Sigmoid is the logistic function with its argument clamped to ±60, so
// the result is finite for any input and NaN maps to 0.5.
func Sigmoid(z float64) float64 {
	if math.IsNaN(z) {
		return 0.5
	}
	if z > maxExponent {
		z = maxExponent
	} else if z < -maxExponent {
		z = -maxExponent
	}
	return 1 / (1 + math.Exp(-z))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
