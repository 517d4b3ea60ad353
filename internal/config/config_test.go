package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/kerrors"
)

const validYAML = `
name: test-strategy
data:
  symbols: ["AAPL"]
  timeframes: ["1h"]
indicators:
  - name: rsi
    parameters:
      period: 14
fuzzy_sets:
  rsi:
    oversold:
      type: triangular
      parameters: [0, 20, 40]
    overbought:
      type: triangular
      parameters: [60, 80, 100]
model:
  architecture:
    hidden_layers: [16, 8]
    activation: relu
    dropout: 0.1
  training:
    learning_rate: 0.01
    batch_size: 32
    max_epochs: 50
    patience: 5
    seed: 42
training:
  labels:
    zigzag_threshold: 0.05
    label_lookahead: 10
  data_split:
    train: 0.7
    val: 0.15
    test: 0.15
backtesting:
  start_date: 2020-01-01T00:00:00Z
  end_date: 2021-01-01T00:00:00Z
  initial_capital: 100000
risk_management:
  position_sizing:
    mode: fixed_fractional
    fraction: 0.1
  stop_loss_pct: 0.05
  take_profit_pct: 0.1
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "test-strategy" {
		t.Fatalf("expected name test-strategy, got %q", cfg.Name)
	}
	if len(cfg.Indicators) != 1 || cfg.Indicators[0].Name != "rsi" {
		t.Fatalf("expected one rsi indicator, got %+v", cfg.Indicators)
	}
	group, ok := cfg.FuzzySets["rsi"]
	if !ok || len(group.Sets) != 2 {
		t.Fatalf("expected 2 fuzzy sets for rsi, got %+v", group)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/strategy.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidateRequiresName(t *testing.T) {
	cfg := &config.StrategyConfig{
		Data:       config.DataConfig{Symbols: []string{"AAPL"}, Timeframes: []string{"1h"}},
		Indicators: []config.IndicatorSpec{{Name: "rsi"}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error for a missing name")
	}
	if ce, ok := err.(*kerrors.ConfigError); !ok || ce.Field != "name" {
		t.Fatalf("expected a ConfigError on field name, got %#v", err)
	}
}

func TestValidateRequiresAtLeastOneIndicator(t *testing.T) {
	cfg := &config.StrategyConfig{
		Name: "x",
		Data: config.DataConfig{Symbols: []string{"AAPL"}, Timeframes: []string{"1h"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for no indicators")
	}
}

func TestValidateRejectsBadDataSplit(t *testing.T) {
	cfg := &config.StrategyConfig{
		Name:       "x",
		Data:       config.DataConfig{Symbols: []string{"AAPL"}, Timeframes: []string{"1h"}},
		Indicators: []config.IndicatorSpec{{Name: "rsi"}},
		Training: config.TrainingSpec{
			Labels:    config.LabelsSpec{ZigzagThreshold: 0.05, LabelLookahead: 5},
			DataSplit: config.DataSplitSpec{Train: 0.5, Val: 0.5, Test: 0.5},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for a data split that doesn't sum to 1.0")
	}
}

func TestValidateRejectsUnknownSizingMode(t *testing.T) {
	cfg := &config.StrategyConfig{
		Name:       "x",
		Data:       config.DataConfig{Symbols: []string{"AAPL"}, Timeframes: []string{"1h"}},
		Indicators: []config.IndicatorSpec{{Name: "rsi"}},
		Training: config.TrainingSpec{
			Labels: config.LabelsSpec{ZigzagThreshold: 0.05, LabelLookahead: 5},
		},
		RiskManagement: config.RiskManagementSpec{
			PositionSizing: config.PositionSizingSpec{Mode: "not-a-mode"},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for an unknown sizing mode")
	}
}

func TestValidateRejectsMalformedFuzzySet(t *testing.T) {
	cfg := &config.StrategyConfig{
		Name:       "x",
		Data:       config.DataConfig{Symbols: []string{"AAPL"}, Timeframes: []string{"1h"}},
		Indicators: []config.IndicatorSpec{{Name: "rsi"}},
		FuzzySets: map[string]config.FuzzyGroupSpec{
			"rsi": {
				SetOrder: []string{"bad"},
				Sets: map[string]config.FuzzySetSpec{
					"bad": {Type: "triangular", Parameters: []float64{10, 5, 1}},
				},
			},
		},
		Training: config.TrainingSpec{
			Labels: config.LabelsSpec{ZigzagThreshold: 0.05, LabelLookahead: 5},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error for an out-of-order triangular fuzzy set")
	}
	if _, ok := err.(*kerrors.FuzzyConfigError); !ok {
		t.Fatalf("expected a FuzzyConfigError, got %T", err)
	}
}
