// Package labels implements the ZigZag supervised labeler: it peeks forward
// over a lookahead window to assign {BUY, HOLD, SELL} labels for training,
// deliberately using future information ("honest cheating") that is sound
// only because labels never feed inference.
package labels

import (
	"github.com/ktrdr/ktrdr/internal/indicators"
	"github.com/ktrdr/ktrdr/pkg/types"
)

// Config holds the ZigZag labeler's two parameters.
type Config struct {
	Threshold float64 // relative move, e.g. 0.05 = 5%
	Lookahead int     // bars
}

// Generate walks close prices left to right via the same pivot confirmation
// the ZigZag indicator uses, then assigns each bar the label implied by the
// nearest confirmed pivot within Lookahead bars. Bars within Lookahead of
// the series end are unlabeled (Valid=false) and must be excluded from all
// splits, per the end-trimming rule.
func Generate(close []float64, cfg Config) []types.Label {
	n := len(close)
	out := make([]types.Label, n)
	if n == 0 {
		return out
	}

	pivots := indicators.ConfirmPivots(close, cfg.Threshold)

	pivotPtr := 0
	for t := 0; t < n; t++ {
		if t >= n-cfg.Lookahead {
			out[t] = types.Label{Valid: false}
			continue
		}
		for pivotPtr < len(pivots) && pivots[pivotPtr].Index <= t {
			pivotPtr++
		}
		var found *indicators.PivotPoint
		for k := pivotPtr; k < len(pivots); k++ {
			if pivots[k].Index > t+cfg.Lookahead {
				break
			}
			found = &pivots[k]
			break
		}
		if found == nil {
			out[t] = types.Label{Direction: types.DirectionHold, Valid: true}
			continue
		}
		move := (found.Price - close[t]) / close[t]
		switch {
		case move >= cfg.Threshold:
			out[t] = types.Label{Direction: types.DirectionBuy, Valid: true}
		case move <= -cfg.Threshold:
			out[t] = types.Label{Direction: types.DirectionSell, Valid: true}
		default:
			out[t] = types.Label{Direction: types.DirectionHold, Valid: true}
		}
	}
	return out
}
