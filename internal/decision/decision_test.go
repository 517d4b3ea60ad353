package decision_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/decision"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/internal/model"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
)

func testConfig() *config.StrategyConfig {
	return &config.StrategyConfig{
		Indicators: []config.IndicatorSpec{
			{Name: "sma", Parameters: map[string]interface{}{"period": 5}},
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
		Model: config.ModelSpec{
			Features: config.FeaturesSpec{},
		},
		Decisions: config.DecisionsSpec{ConfidenceThreshold: 0},
	}
}

func syntheticBars(n int) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 1
		bars[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price + 1),
			Low:       decimal.NewFromFloat(price - 1),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

func newTestEngine(t *testing.T) (*decision.Engine, []types.OHLCV) {
	t.Helper()
	cfg := testConfig()
	bars := syntheticBars(30)

	// Two fuzzy columns (low, high) feed a tiny network with no hidden
	// layers, so Predict is a pure linear softmax over the raw memberships.
	net := model.NewNetwork(model.Architecture{InputWidth: 2, Hidden: nil, Activation: "relu"}, rand.New(rand.NewSource(1)))
	meta := types.ModelArtifactMeta{
		FeatureColumns: []string{"sma.low", "sma.high"},
		Scaler:         types.ScalerState{Method: "standard", Mean: []float64{0, 0}, Std: []float64{1, 1}},
	}

	engine, err := decision.NewEngine(cfg, net, meta)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, bars
}

func TestDecideHoldsDuringWarmup(t *testing.T) {
	engine, bars := newTestEngine(t)

	got, err := engine.Decide(bars, 1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if got.Signal != types.DirectionHold || got.Confidence != 0 {
		t.Fatalf("expected a flat HOLD with 0 confidence during warmup, got %+v", got)
	}
}

func TestDecideProducesBoundedConfidenceAfterWarmup(t *testing.T) {
	engine, bars := newTestEngine(t)

	got, err := engine.Decide(bars, len(bars)-1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if got.Confidence < 0 || got.Confidence > 1 {
		t.Fatalf("confidence out of [0,1]: %v", got.Confidence)
	}
}

func TestDecideDeterministic(t *testing.T) {
	engine, bars := newTestEngine(t)

	d1, err := engine.Decide(bars, len(bars)-1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	d2, err := engine.Decide(bars, len(bars)-1)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("identical inputs produced different decisions: %+v vs %+v", d1, d2)
	}
}

func TestDecideRejectsFeatureSchemaMismatch(t *testing.T) {
	cfg := testConfig()
	bars := syntheticBars(30)
	net := model.NewNetwork(model.Architecture{InputWidth: 2, Hidden: nil, Activation: "relu"}, rand.New(rand.NewSource(1)))
	meta := types.ModelArtifactMeta{
		FeatureColumns: []string{"sma.low", "sma.high", "sma.extra"},
		Scaler:         types.ScalerState{Method: "standard", Mean: []float64{0, 0, 0}, Std: []float64{1, 1, 1}},
	}

	engine, err := decision.NewEngine(cfg, net, meta)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	_, err = engine.Decide(bars, len(bars)-1)
	if err == nil {
		t.Fatal("expected a feature schema mismatch error")
	}
	if _, ok := err.(*kerrors.FeatureSchemaMismatchError); !ok {
		t.Fatalf("expected a FeatureSchemaMismatchError, got %T", err)
	}
}

func TestDecideRejectsUnknownIndicator(t *testing.T) {
	cfg := testConfig()
	cfg.Indicators = []config.IndicatorSpec{{Name: "not-a-real-indicator"}}
	bars := syntheticBars(30)
	net := model.NewNetwork(model.Architecture{InputWidth: 2, Hidden: nil, Activation: "relu"}, rand.New(rand.NewSource(1)))
	meta := types.ModelArtifactMeta{
		FeatureColumns: []string{"sma.low", "sma.high"},
		Scaler:         types.ScalerState{Method: "standard", Mean: []float64{0, 0}, Std: []float64{1, 1}},
	}

	engine, err := decision.NewEngine(cfg, net, meta)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Decide(bars, len(bars)-1); err == nil {
		t.Fatal("expected an error for an unknown indicator")
	}
}
