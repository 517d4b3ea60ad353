// Package indicators implements the stateless numerical transforms over
// OHLCV time series: SMA, EMA, RSI, MACD, Bollinger bands, ATR, and the
// ZigZag pivot detector. Every indicator is registered as a
// {name -> (parameter schema, compute function)} entry rather than a class
// in an inheritance tree — polymorphism here is over "compute given
// validated params", following the same registry shape the teacher used
// for its strategy lookup (internal/strategy.StrategyRegistry), not over a
// subclass hierarchy.
package indicators

import (
	"fmt"
	"math"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
)

// Series is a named numeric series aligned 1:1 with its source OHLCV bars.
// Leading positions before WarmupPeriod-1 hold types.Missing.
type Series struct {
	Name   string
	Values []float64
}

// Bars is the minimal OHLCV view an indicator needs, as plain float64
// columns. Converting once at the boundary avoids repeated decimal
// arithmetic inside the per-bar loop.
type Bars struct {
	Open, High, Low, Close, Volume []float64
}

// BarsFromOHLCV converts a decimal OHLCV series to the float64 view
// indicators operate on. Money precision is not needed past this boundary;
// decimal.Decimal stays confined to the backtester's accounting.
func BarsFromOHLCV(ohlcv []types.OHLCV) Bars {
	b := Bars{
		Open:   make([]float64, len(ohlcv)),
		High:   make([]float64, len(ohlcv)),
		Low:    make([]float64, len(ohlcv)),
		Close:  make([]float64, len(ohlcv)),
		Volume: make([]float64, len(ohlcv)),
	}
	for i, bar := range ohlcv {
		b.Open[i], _ = bar.Open.Float64()
		b.High[i], _ = bar.High.Float64()
		b.Low[i], _ = bar.Low.Float64()
		b.Close[i], _ = bar.Close.Float64()
		b.Volume[i], _ = bar.Volume.Float64()
	}
	return b
}

// ComputeFunc computes one or more named series from bars, given already
// validated params. It must be pure and deterministic: identical inputs
// yield bit-identical outputs (testable property #1).
type ComputeFunc func(bars Bars, params map[string]interface{}) (map[string]Series, error)

// WarmupFunc returns the minimum number of leading bars required before the
// indicator produces its first valid value, given validated params.
type WarmupFunc func(params map[string]interface{}) int

// ValidateFunc checks a raw parameter map against the indicator's schema
// and returns normalized params (defaults applied) or a ConfigError.
type ValidateFunc func(params map[string]interface{}) (map[string]interface{}, error)

// Definition is one registry entry: a name plus its schema and compute
// function.
type Definition struct {
	Name     string
	Validate ValidateFunc
	Warmup   WarmupFunc
	Compute  ComputeFunc
}

var registry = map[string]Definition{}

func register(d Definition) {
	registry[d.Name] = d
}

// Lookup returns the registered definition for name, or false if unknown.
func Lookup(name string) (Definition, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names returns all registered indicator names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

func init() {
	registerSMA()
	registerEMA()
	registerRSI()
	registerMACD()
	registerBollinger()
	registerATR()
	registerZigZag()
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer, got %T", key, v)
	}
}

func floatParam(params map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
}

func fillMissing(n, warmup int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n && i < warmup; i++ {
		out[i] = types.Missing
	}
	return out
}

func configErr(indicator, field, msg string) error {
	return &kerrors.ConfigError{Field: fmt.Sprintf("indicators.%s.%s", indicator, field), Message: msg}
}

func checkLength(n, need int) error {
	if n < need {
		return &kerrors.InsufficientDataError{Have: n, Need: need}
	}
	return nil
}

// sma computes the simple moving average of series over period p, writing
// types.Missing for the first p-1 positions.
func sma(series []float64, p int) []float64 {
	n := len(series)
	out := fillMissing(n, p)
	if n < p {
		return out
	}
	sum := 0.0
	for i := 0; i < p; i++ {
		sum += series[i]
	}
	out[p-1] = sum / float64(p)
	for i := p; i < n; i++ {
		sum += series[i] - series[i-p]
		out[i] = sum / float64(p)
	}
	return out
}

// ema computes the exponential moving average of series over period p,
// seeded by the simple mean of the first p values, matching spec's
// "EMA uses smoothing factor alpha = 2/(p+1), seeded by the first SMA of
// length p".
func ema(series []float64, p int) []float64 {
	n := len(series)
	out := fillMissing(n, p)
	if n < p {
		return out
	}
	alpha := 2.0 / float64(p+1)
	sum := 0.0
	for i := 0; i < p; i++ {
		sum += series[i]
	}
	prev := sum / float64(p)
	out[p-1] = prev
	for i := p; i < n; i++ {
		prev = alpha*series[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// wilderSmooth applies Wilder's smoothing (alpha = 1/p) to series, seeded
// by the simple mean of the first p values.
func wilderSmooth(series []float64, p int) []float64 {
	n := len(series)
	out := fillMissing(n, p)
	if n < p {
		return out
	}
	sum := 0.0
	for i := 0; i < p; i++ {
		sum += series[i]
	}
	prev := sum / float64(p)
	out[p-1] = prev
	for i := p; i < n; i++ {
		prev = (prev*float64(p-1) + series[i]) / float64(p)
		out[i] = prev
	}
	return out
}

func stddevPopulation(series []float64, i, p int) float64 {
	mean := 0.0
	for k := i - p + 1; k <= i; k++ {
		mean += series[k]
	}
	mean /= float64(p)
	variance := 0.0
	for k := i - p + 1; k <= i; k++ {
		d := series[k] - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(p))
}
