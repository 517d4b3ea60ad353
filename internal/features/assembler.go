// Package features assembles the dense, per-bar feature matrix consumed by
// the model: fuzzy memberships from all configured groups, optional
// price/volume context, and an optional lookback window, in a column order
// frozen at config-load time.
package features

import (
	"fmt"
	"math"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/fuzzy"
	"github.com/ktrdr/ktrdr/internal/indicators"
	"github.com/ktrdr/ktrdr/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// IndicatorOutputs maps an indicator name to its computed named series
// (e.g. "rsi" -> {"rsi": [...]}, "macd" -> {"macd":[...],"signal":[...],...}).
type IndicatorOutputs map[string]map[string]indicators.Series

// CompiledGroup is a fuzzy.Group bound to the specific indicator output
// series it reads values from.
type CompiledGroup struct {
	Indicator string
	Source    string // which named output of the indicator to read, e.g. "rsi" or "macd"
	Group     fuzzy.Group
}

// Compile builds the ordered list of fuzzy groups from a strategy config,
// validating every set. Group order follows the config's indicator
// declaration order, never map iteration.
func Compile(cfg *config.StrategyConfig) ([]CompiledGroup, error) {
	groups := make([]CompiledGroup, 0, len(cfg.Indicators))
	for _, ind := range cfg.Indicators {
		spec, ok := cfg.FuzzySets[ind.Name]
		if !ok {
			continue
		}
		sets := make([]fuzzy.Set, 0, len(spec.Sets))
		for _, setName := range spec.SetOrder {
			s := spec.Sets[setName]
			compiled, err := fuzzy.Compile(ind.Name, setName, s.Type, s.Parameters)
			if err != nil {
				return nil, err
			}
			sets = append(sets, compiled)
		}
		groups = append(groups, CompiledGroup{
			Indicator: ind.Name,
			Source:    ind.Name,
			Group:     fuzzy.Group{Indicator: ind.Name, Sets: sets},
		})
	}
	return groups, nil
}

// ColumnNames returns the deterministic, frozen column order for a compiled
// set of fuzzy groups plus the configured optional context and lookback —
// a pure function of the config, satisfying testable property #3 (hash
// equal implies column order equal).
func ColumnNames(groups []CompiledGroup, featuresCfg config.FeaturesSpec) []string {
	var cols []string
	for _, g := range groups {
		for _, s := range g.Group.Sets {
			cols = append(cols, fmt.Sprintf("%s.%s", g.Indicator, s.Name))
		}
	}
	if featuresCfg.PriceContext {
		cols = append(cols, "price.return_1", "price.close_over_sma")
	}
	if featuresCfg.VolumeContext {
		cols = append(cols, "volume.ratio_to_mean")
	}
	base := append([]string(nil), cols...)
	for lag := 1; lag <= featuresCfg.Lookback; lag++ {
		for _, c := range base {
			cols = append(cols, fmt.Sprintf("%s.lag%d", c, lag))
		}
	}
	return cols
}

// Assemble builds the feature matrix for one (symbol, timeframe) run:
// evaluates every fuzzy group in batch mode, optionally appends
// price/volume context and a lookback window, then drops rows where any
// feature is missing (the union of warmup periods).
func Assemble(bars indicators.Bars, timestamps []types.OHLCV, outputs IndicatorOutputs, groups []CompiledGroup, featuresCfg config.FeaturesSpec) (types.FeatureMatrix, error) {
	n := len(bars.Close)
	columns := ColumnNames(groups, featuresCfg)
	baseWidth := len(columns)
	if featuresCfg.Lookback > 0 {
		baseWidth = len(columns) / (featuresCfg.Lookback + 1)
	}

	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = make([]float64, baseWidth)
	}

	col := 0
	for _, g := range groups {
		series, err := sourceSeries(outputs, g)
		if err != nil {
			return types.FeatureMatrix{}, err
		}
		batch := g.Group.EvalBatch(series)
		for i := 0; i < n; i++ {
			for k, v := range batch[i] {
				raw[i][col+k] = v
			}
		}
		col += len(g.Group.Sets)
	}

	if featuresCfg.PriceContext {
		ret1 := priceReturn(bars.Close, 1)
		smaRatio := closeOverSMA(bars.Close, 20)
		for i := 0; i < n; i++ {
			raw[i][col] = ret1[i]
			raw[i][col+1] = smaRatio[i]
		}
		col += 2
	}

	if featuresCfg.VolumeContext {
		volRatio := volumeRatioToMean(bars.Volume, 20)
		for i := 0; i < n; i++ {
			raw[i][col] = volRatio[i]
		}
		col++
	}

	if featuresCfg.Lookback > 0 {
		withLookback := make([][]float64, n)
		for i := 0; i < n; i++ {
			row := make([]float64, len(columns))
			copy(row, raw[i])
			offset := baseWidth
			for lag := 1; lag <= featuresCfg.Lookback; lag++ {
				src := i - lag
				for k := 0; k < baseWidth; k++ {
					if src < 0 {
						row[offset+k] = types.Missing
					} else {
						row[offset+k] = raw[src][k]
					}
				}
				offset += baseWidth
			}
			withLookback[i] = row
		}
		raw = withLookback
	}

	rows := make([]types.FeatureRow, 0, n)
	for i := 0; i < n; i++ {
		if hasMissing(raw[i]) {
			continue
		}
		rows = append(rows, types.FeatureRow{Timestamp: timestamps[i].Timestamp, Values: raw[i]})
	}

	return types.FeatureMatrix{Columns: columns, Rows: rows}, nil
}

func sourceSeries(outputs IndicatorOutputs, g CompiledGroup) ([]float64, error) {
	out, ok := outputs[g.Indicator]
	if !ok {
		return nil, fmt.Errorf("no computed output for indicator %q", g.Indicator)
	}
	series, ok := out[g.Source]
	if !ok {
		// single-output indicators key their series by the indicator name itself.
		series, ok = out[g.Indicator]
		if !ok {
			return nil, fmt.Errorf("indicator %q has no output named %q", g.Indicator, g.Source)
		}
	}
	return series.Values, nil
}

func hasMissing(row []float64) bool {
	for _, v := range row {
		if types.IsMissing(v) {
			return true
		}
	}
	return false
}

func priceReturn(close []float64, lag int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < lag {
			out[i] = types.Missing
			continue
		}
		out[i] = close[i]/close[i-lag] - 1
	}
	return out
}

func closeOverSMA(close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < period-1 {
			out[i] = types.Missing
			continue
		}
		mean := stat.Mean(close[i-period+1:i+1], nil)
		out[i] = close[i]/mean - 1
	}
	return out
}

func volumeRatioToMean(volume []float64, period int) []float64 {
	n := len(volume)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < period-1 {
			out[i] = types.Missing
			continue
		}
		mean := stat.Mean(volume[i-period+1:i+1], nil)
		if mean == 0 {
			out[i] = types.Missing
			continue
		}
		out[i] = volume[i] / mean
	}
	return out
}

// FitScaler fits a standard (mean/std) scaler on the training split's
// feature rows only.
func FitScaler(rows []types.FeatureRow) types.ScalerState {
	if len(rows) == 0 {
		return types.ScalerState{Method: "standard"}
	}
	width := len(rows[0].Values)
	mean := make([]float64, width)
	std := make([]float64, width)
	col := make([]float64, len(rows))
	for c := 0; c < width; c++ {
		for i, r := range rows {
			col[i] = r.Values[c]
		}
		m, s := stat.MeanStdDev(col, nil)
		mean[c] = m
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		std[c] = s
	}
	return types.ScalerState{Method: "standard", Mean: mean, Std: std}
}

// ApplyScaler standardizes rows in place using a previously fit scaler.
func ApplyScaler(rows []types.FeatureRow, scaler types.ScalerState) {
	for i := range rows {
		for c, v := range rows[i].Values {
			rows[i].Values[c] = (v - scaler.Mean[c]) / scaler.Std[c]
		}
	}
}
