package indicators

import "github.com/ktrdr/ktrdr/pkg/types"

// PivotPoint is one confirmed ZigZag pivot during the forward walk.
type PivotPoint struct {
	Index int
	Price float64
}

// ConfirmPivots walks close prices left to right, confirming a pivot when
// price has moved at least threshold (relative) from the last pivot in the
// opposite direction. Equal highs/lows during the walk: the first bar wins
// (ties never replace an already-extreme running pivot). Shared by the
// ZigZag indicator below (which reports a sparse per-bar series) and
// internal/labels (which turns the same pivot sequence into forward-looking
// BUY/HOLD/SELL labels).
func ConfirmPivots(close []float64, threshold float64) []PivotPoint {
	n := len(close)
	if n == 0 {
		return nil
	}
	var pivots []PivotPoint

	pivotPrice := close[0]
	pivotIdx := 0
	direction := 0 // 0 = undetermined, 1 = up, -1 = down

	for i := 1; i < n; i++ {
		move := (close[i] - pivotPrice) / pivotPrice
		switch direction {
		case 0:
			if move >= threshold {
				pivots = append(pivots, PivotPoint{pivotIdx, pivotPrice})
				pivotPrice, pivotIdx, direction = close[i], i, 1
			} else if move <= -threshold {
				pivots = append(pivots, PivotPoint{pivotIdx, pivotPrice})
				pivotPrice, pivotIdx, direction = close[i], i, -1
			}
		case 1:
			if close[i] > pivotPrice {
				pivotPrice, pivotIdx = close[i], i
			} else if (pivotPrice-close[i])/pivotPrice >= threshold {
				pivots = append(pivots, PivotPoint{pivotIdx, pivotPrice})
				pivotPrice, pivotIdx, direction = close[i], i, -1
			}
		case -1:
			if close[i] < pivotPrice {
				pivotPrice, pivotIdx = close[i], i
			} else if (close[i]-pivotPrice)/pivotPrice >= threshold {
				pivots = append(pivots, PivotPoint{pivotIdx, pivotPrice})
				pivotPrice, pivotIdx, direction = close[i], i, 1
			}
		}
	}
	return pivots
}

// zigzagPivots renders ConfirmPivots as a sparse per-bar series: types.Missing
// everywhere except at confirmed pivot indices, where it holds the pivot
// price.
func zigzagPivots(close []float64, threshold float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := range out {
		out[i] = types.Missing
	}
	for _, p := range ConfirmPivots(close, threshold) {
		out[p.Index] = p.Price
	}
	return out
}

func registerZigZag() {
	register(Definition{
		Name: "zigzag",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			threshold, err := floatParam(params, "threshold", 0.05)
			if err != nil {
				return nil, configErr("zigzag", "threshold", err.Error())
			}
			if threshold <= 0 || threshold >= 1 {
				return nil, configErr("zigzag", "threshold", "must be in (0, 1)")
			}
			return map[string]interface{}{"threshold": threshold}, nil
		},
		Warmup: func(params map[string]interface{}) int { return 1 },
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			threshold, _ := floatParam(params, "threshold", 0.05)
			if err := checkLength(len(bars.Close), 1); err != nil {
				return nil, err
			}
			return map[string]Series{"zigzag": {Name: "zigzag", Values: zigzagPivots(bars.Close, threshold)}}, nil
		},
	})
}
