package features_test

import (
	"testing"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/features"
	"github.com/ktrdr/ktrdr/internal/indicators"
	"github.com/ktrdr/ktrdr/pkg/types"
)

func testCfg() *config.StrategyConfig {
	return &config.StrategyConfig{
		Indicators: []config.IndicatorSpec{
			{Name: "sma", Parameters: map[string]interface{}{"period": 3}},
		},
		FuzzySets: map[string]config.FuzzyGroupSpec{
			"sma": {
				SetOrder: []string{"low", "high"},
				Sets: map[string]config.FuzzySetSpec{
					"low":  {Type: "triangular", Parameters: []float64{0, 50, 100}},
					"high": {Type: "triangular", Parameters: []float64{50, 100, 150}},
				},
			},
		},
	}
}

func TestCompileFollowsIndicatorDeclarationOrder(t *testing.T) {
	cfg := testCfg()
	cfg.Indicators = append(cfg.Indicators, config.IndicatorSpec{Name: "rsi"})
	cfg.FuzzySets["rsi"] = config.FuzzyGroupSpec{
		SetOrder: []string{"low"},
		Sets:     map[string]config.FuzzySetSpec{"low": {Type: "triangular", Parameters: []float64{0, 30, 60}}},
	}

	groups, err := features.Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(groups) != 2 || groups[0].Indicator != "sma" || groups[1].Indicator != "rsi" {
		t.Fatalf("expected groups in declaration order [sma, rsi], got %+v", groups)
	}
}

func TestCompileSkipsIndicatorsWithoutFuzzySets(t *testing.T) {
	cfg := testCfg()
	cfg.Indicators = append(cfg.Indicators, config.IndicatorSpec{Name: "atr"})
	groups, err := features.Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected atr (no fuzzy group) to be skipped, got %d groups", len(groups))
	}
}

func TestColumnNamesIsPureFunctionOfConfig(t *testing.T) {
	cfg := testCfg()
	groups, err := features.Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cols1 := features.ColumnNames(groups, cfg.Model.Features)
	cols2 := features.ColumnNames(groups, cfg.Model.Features)
	if len(cols1) != len(cols2) {
		t.Fatal("expected ColumnNames to be deterministic")
	}
	for i := range cols1 {
		if cols1[i] != cols2[i] {
			t.Fatalf("ColumnNames diverged at %d: %q vs %q", i, cols1[i], cols2[i])
		}
	}
	want := []string{"sma.low", "sma.high"}
	for i, w := range want {
		if cols1[i] != w {
			t.Fatalf("expected column %d to be %q, got %q", i, w, cols1[i])
		}
	}
}

func TestColumnNamesExpandsWithLookback(t *testing.T) {
	cfg := testCfg()
	cfg.Model.Features.Lookback = 2
	groups, err := features.Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	cols := features.ColumnNames(groups, cfg.Model.Features)
	// 2 base columns * (1 + 2 lags) = 6.
	if len(cols) != 6 {
		t.Fatalf("expected 6 columns with lookback 2, got %d: %v", len(cols), cols)
	}
}

func syntheticBars(n int) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	for i := 0; i < n; i++ {
		bars[i] = types.OHLCV{}
	}
	return bars
}

func TestAssembleDropsWarmupRows(t *testing.T) {
	cfg := testCfg()
	groups, err := features.Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	closeSeries := []float64{10, 20, 30, 40, 50, 60, 70, 80}
	bars := indicators.Bars{Close: closeSeries, Open: closeSeries, High: closeSeries, Low: closeSeries, Volume: closeSeries}

	def, _ := indicators.Lookup("sma")
	params, _ := def.Validate(map[string]interface{}{"period": 3})
	out, err := def.Compute(bars, params)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	outputs := features.IndicatorOutputs{"sma": out}
	matrix, err := features.Assemble(bars, syntheticBars(len(closeSeries)), outputs, groups, cfg.Model.Features)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// sma warmup is 2 missing leading bars, so 6 of 8 rows should survive.
	if len(matrix.Rows) != 6 {
		t.Fatalf("expected 6 surviving rows after warmup trim, got %d", len(matrix.Rows))
	}
	if len(matrix.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(matrix.Columns))
	}
}

func TestFitScalerGuardsZeroVariance(t *testing.T) {
	rows := []types.FeatureRow{
		{Values: []float64{5, 1}},
		{Values: []float64{5, 2}},
		{Values: []float64{5, 3}},
	}
	scaler := features.FitScaler(rows)
	if scaler.Std[0] != 1 {
		t.Fatalf("expected zero-variance column to get Std=1, got %v", scaler.Std[0])
	}
	if scaler.Mean[0] != 5 {
		t.Fatalf("expected mean 5 for the constant column, got %v", scaler.Mean[0])
	}
}

func TestApplyScalerStandardizesInPlace(t *testing.T) {
	rows := []types.FeatureRow{{Values: []float64{10, 20}}}
	scaler := types.ScalerState{Method: "standard", Mean: []float64{5, 10}, Std: []float64{5, 10}}
	features.ApplyScaler(rows, scaler)
	if rows[0].Values[0] != 1 || rows[0].Values[1] != 1 {
		t.Fatalf("expected standardized values [1,1], got %v", rows[0].Values)
	}
}
