// Package decision ties the indicator, fuzzy, feature, and model stages
// together into the single operation the backtester and the orchestrator's
// predict path both call: given bars observed so far, produce a
// (signal, confidence) decision. It never sees labels — those exist only
// for training.
package decision

import (
	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/features"
	"github.com/ktrdr/ktrdr/internal/indicators"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/internal/model"
	"github.com/ktrdr/ktrdr/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// Engine computes decisions at inference time by running the same
// indicator -> fuzzy -> feature pipeline training uses, then invoking a
// loaded model artifact.
type Engine struct {
	cfg      *config.StrategyConfig
	groups   []features.CompiledGroup
	net      *model.Network
	meta     types.ModelArtifactMeta
	threshold float64
}

// NewEngine compiles the fuzzy groups from cfg and binds a loaded network
// and its artifact metadata.
func NewEngine(cfg *config.StrategyConfig, net *model.Network, meta types.ModelArtifactMeta) (*Engine, error) {
	groups, err := features.Compile(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, groups: groups, net: net, meta: meta, threshold: cfg.Decisions.ConfidenceThreshold}, nil
}

// Decide computes indicators over bars[0:upto+1], i.e. through bar upto
// inclusive (no peeking beyond it),
// assembles the feature row for the last bar, and runs inference. Returns
// HOLD with zero confidence if the bar falls within warmup (not enough
// history yet) — "flat, no decision", per spec's failure semantics — never
// an error for that case alone.
func (e *Engine) Decide(bars []types.OHLCV, upto int) (types.Decision, error) {
	window := bars[:upto+1]
	barsView := indicators.BarsFromOHLCV(window)

	outputs := make(features.IndicatorOutputs, len(e.cfg.Indicators))
	maxWarmup := 0
	for _, ind := range e.cfg.Indicators {
		def, ok := indicators.Lookup(ind.Name)
		if !ok {
			return types.Decision{}, &kerrors.ConfigError{Field: "indicators", Message: "unknown indicator " + ind.Name}
		}
		params, err := def.Validate(ind.Parameters)
		if err != nil {
			return types.Decision{}, err
		}
		if w := def.Warmup(params); w > maxWarmup {
			maxWarmup = w
		}
		if len(window) < def.Warmup(params) {
			continue // insufficient history for this indicator yet: flat, no decision
		}
		out, err := def.Compute(barsView, params)
		if err != nil {
			return types.Decision{}, err
		}
		outputs[ind.Name] = out
	}

	if len(window) <= maxWarmup {
		return types.Decision{Signal: types.DirectionHold, Confidence: 0}, nil
	}

	matrix, err := features.Assemble(barsView, window, outputs, e.groups, e.cfg.Model.Features)
	if err != nil {
		return types.Decision{}, err
	}
	if len(matrix.Rows) == 0 {
		return types.Decision{Signal: types.DirectionHold, Confidence: 0}, nil
	}

	row := matrix.Rows[len(matrix.Rows)-1]
	if err := model.CheckFeatureSchema(e.meta, row.Values); err != nil {
		return types.Decision{}, err
	}

	scaled := append([]float64(nil), row.Values...)
	for i := range scaled {
		scaled[i] = (scaled[i] - e.meta.Scaler.Mean[i]) / e.meta.Scaler.Std[i]
	}

	probs := e.net.Predict(mat.NewDense(1, len(scaled), scaled))
	signal, confidence := argmaxConfidence(probs)

	if signal != types.DirectionHold && confidence < e.threshold {
		signal = types.DirectionHold
	}
	return types.Decision{Signal: signal, Confidence: confidence}, nil
}

// tieEpsilon is the floating-point tolerance within which two softmax
// probabilities are considered tied. The source tie-breaks to HOLD on an
// exact tie; this implementer opts for an explicit epsilon rather than
// requiring bit-exact equality, per the open question left in spec.
const tieEpsilon = 1e-9

// argmaxConfidence returns the class with the highest softmax probability
// and that probability as the confidence. If BUY and SELL are tied to
// within tieEpsilon, the decision resolves to HOLD regardless of which of
// the two a naive argmax would have picked.
func argmaxConfidence(probs *mat.Dense) (types.Direction, float64) {
	buy := probs.At(0, int(types.DirectionBuy))
	hold := probs.At(0, int(types.DirectionHold))
	sell := probs.At(0, int(types.DirectionSell))

	if abs64(buy-sell) <= tieEpsilon && buy >= hold {
		return types.DirectionHold, hold
	}

	best := buy
	argmax := types.DirectionBuy
	if hold > best {
		best, argmax = hold, types.DirectionHold
	}
	if sell > best {
		best, argmax = sell, types.DirectionSell
	}
	return argmax, best
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
