package types

import (
	"math"
	"time"
)

// Direction is the discrete decision emitted by the decision engine and the
// supervised label assigned by the ZigZag labeler, encoded BUY=0, HOLD=1,
// SELL=2. The zero value is therefore DirectionBuy, not an unset marker.
type Direction int

const (
	DirectionBuy  Direction = 0
	DirectionHold Direction = 1
	DirectionSell Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionHold:
		return "HOLD"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Missing is the sentinel value held by indicator, fuzzy, and feature series
// at positions where the underlying computation is undefined (warmup).
var Missing = math.NaN()

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// Decision is the output of the decision engine at inference time: a
// direction and the confidence (max softmax probability) behind it.
type Decision struct {
	Signal     Direction `json:"signal"`
	Confidence float64   `json:"confidence"`
}

// FuzzySetSpec is a single tagged-variant fuzzy membership function.
type FuzzySetSpec struct {
	Name   string    `json:"name" yaml:"name"`
	Kind   string    `json:"type" yaml:"type"` // "triangular" | "trapezoidal" | "gaussian"
	Params []float64 `json:"parameters" yaml:"parameters"`
}

// FuzzyGroupSpec is the ordered set of fuzzy sets attached to one indicator
// output. Evaluation order follows Sets, not map iteration.
type FuzzyGroupSpec struct {
	Indicator string         `json:"indicator" yaml:"indicator"`
	Sets      []FuzzySetSpec `json:"sets" yaml:"sets"`
}

// Label is a per-bar supervised label produced by the ZigZag labeler, or
// false in Valid when the bar falls within the unlabeled lookahead tail.
type Label struct {
	Direction Direction
	Valid     bool
}

// FeatureRow is one bar's worth of assembled, scaled feature values, in the
// column order frozen at config-load time.
type FeatureRow struct {
	Timestamp time.Time
	Values    []float64
}

// FeatureMatrix is a dense, bar-aligned set of feature rows plus the frozen
// column names that define their order — the same order the model artifact
// records and inference must reconstruct from config alone.
type FeatureMatrix struct {
	Columns []string
	Rows    []FeatureRow
}

// ScalerState is the per-feature standardization state fit on the training
// split only and persisted with the model artifact.
type ScalerState struct {
	Method string    `json:"method"` // "standard" | "minmax"
	Mean   []float64 `json:"mean,omitempty"`
	Std    []float64 `json:"std,omitempty"`
	Min    []float64 `json:"min,omitempty"`
	Max    []float64 `json:"max,omitempty"`
}

// TrainingHistoryEntry records one epoch of a training run.
type TrainingHistoryEntry struct {
	Epoch    int     `json:"epoch"`
	TrainLoss float64 `json:"trainLoss"`
	ValLoss   float64 `json:"valLoss"`
	TrainAcc  float64 `json:"trainAcc"`
	ValAcc    float64 `json:"valAcc"`
}

// ModelArtifactMeta is the metadata persisted alongside a model's parameter
// tensors: the immutable, versioned unit described by the artifact layout.
type ModelArtifactMeta struct {
	Strategy        string                  `json:"strategy"`
	Symbol          string                  `json:"symbol"`
	Timeframe       string                  `json:"timeframe"`
	Version         int                     `json:"version"`
	VersionID       string                  `json:"versionId"` // uuid, distinct from the semantic vN
	FeatureColumns  []string                `json:"featureColumns"`
	Scaler          ScalerState             `json:"scaler"`
	ConfigHash      string                  `json:"configHash"`
	TrainMetrics    map[string]float64      `json:"trainMetrics"`
	ValMetrics      map[string]float64      `json:"valMetrics"`
	TestMetrics     map[string]float64      `json:"testMetrics"`
	FeatureImportance map[string]float64    `json:"featureImportance"`
	History         []TrainingHistoryEntry  `json:"history"`
	CreatedAt       time.Time               `json:"createdAt"`
}
