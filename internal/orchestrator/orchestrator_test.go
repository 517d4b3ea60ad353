package orchestrator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/model"
	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/internal/ohlcv"
	"github.com/ktrdr/ktrdr/internal/tuning"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testStrategy() *config.StrategyConfig {
	return &config.StrategyConfig{
		Name: "test-strategy",
		Data: config.DataConfig{
			Symbols:    []string{"TEST"},
			Timeframes: []string{"1h"},
		},
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
			Architecture: config.ArchitectureSpec{HiddenLayers: []int{8}, Activation: "relu", Dropout: 0},
			Training: config.TrainingHyperparams{
				LearningRate: 0.05,
				BatchSize:    8,
				MaxEpochs:    3,
				Patience:     2,
				MinDelta:     0,
				WeightDecay:  0,
				Seed:         1,
			},
			Features: config.FeaturesSpec{PriceContext: false, VolumeContext: false, Lookback: 0},
		},
		Decisions: config.DecisionsSpec{OutputFormat: "discrete", ConfidenceThreshold: 0},
		Training: config.TrainingSpec{
			Labels:       config.LabelsSpec{ZigzagThreshold: 0.02, LabelLookahead: 3},
			DataSplit:    config.DataSplitSpec{Train: 0.6, Val: 0.2, Test: 0.2},
			ClassWeights: false,
		},
		Backtesting: config.BacktestingSpec{
			StartDate:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
			InitialCapital: 100000,
			TransactionCosts: config.TransactionCostsSpec{CommissionPct: 0.001},
			Slippage:         config.SlippageSpec{Model: "fixed", Pct: 0.0005},
		},
		RiskManagement: config.RiskManagementSpec{
			PositionSizing: config.PositionSizingSpec{Mode: "fixed_fractional", Fraction: 0.1},
			StopLossPct:    0.05,
			TakeProfitPct:  0.10,
		},
	}
}

// syntheticBars builds a sinusoidal-ish price series with enough swings for
// the ZigZag labeler to produce both buy and sell labels, and enough bars to
// satisfy the model's chronological train/val/test split.
func syntheticBars(n int) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 3 * math.Sin(float64(i)/6.0)
		open := price
		closePx := price + math.Sin(float64(i)/3.0)
		hi := math.Max(open, closePx) + 0.5
		lo := math.Min(open, closePx) - 0.5
		bars[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(hi),
			Low:       decimal.NewFromFloat(lo),
			Close:     decimal.NewFromFloat(closePx),
			Volume:    decimal.NewFromFloat(1000 + float64(i%10)*10),
		}
	}
	return bars
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *config.StrategyConfig) {
	t.Helper()
	logger := zap.NewNop()
	dataDir := t.TempDir()
	modelDir := t.TempDir()

	cache, err := ohlcv.NewCache(logger, dataDir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bars := syntheticBars(200)
	if err := cache.Store("TEST", types.Timeframe1h, bars); err != nil {
		t.Fatalf("Store: %v", err)
	}

	store := model.NewStore(modelDir)
	runs := observer.NewRegistry()
	orch := NewOrchestrator(logger, cache, store, runs, nil)

	strategy := testStrategy()
	return orch, strategy
}

func TestTrainProducesVersionedArtifact(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	result, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, "")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if result.Meta.Version != 1 {
		t.Fatalf("expected first version to be 1, got %d", result.Meta.Version)
	}
	if len(result.Meta.FeatureColumns) == 0 {
		t.Fatal("expected non-empty feature columns")
	}
	if _, ok := result.Meta.ValMetrics["accuracy"]; !ok {
		t.Fatal("expected val accuracy metric")
	}

	result2, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, "")
	if err != nil {
		t.Fatalf("second Train: %v", err)
	}
	if result2.Meta.Version != 2 {
		t.Fatalf("expected second version to be 2, got %d", result2.Meta.Version)
	}
}

func TestPredictUsesLatestVersionByDefault(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	if _, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, ""); err != nil {
		t.Fatalf("Train: %v", err)
	}

	decision, err := orch.Predict(context.Background(), strategy, "TEST", types.Timeframe1h, 0)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", decision.Confidence)
	}
}

func TestBacktestRunsEndToEnd(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	if _, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, ""); err != nil {
		t.Fatalf("Train: %v", err)
	}

	btCfg := &types.BacktestConfig{
		Symbols:        []string{"TEST"},
		StartDate:      strategy.Backtesting.StartDate,
		EndDate:        strategy.Backtesting.EndDate,
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(100000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
	}

	result, err := orch.Backtest(context.Background(), strategy, btCfg, 0, "")
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if result.Metrics == nil {
		t.Fatal("expected non-nil metrics")
	}
	if len(result.EquityCurve) == 0 {
		t.Fatal("expected a non-empty equity curve")
	}
}

func TestBacktestRejectsEmptySymbols(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	if _, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, ""); err != nil {
		t.Fatalf("Train: %v", err)
	}

	btCfg := &types.BacktestConfig{
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(100000),
	}

	if _, err := orch.Backtest(context.Background(), strategy, btCfg, 0, ""); err == nil {
		t.Fatal("expected an error for empty symbols")
	}
}

func TestTuneSearchesRiskParameters(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	if _, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, ""); err != nil {
		t.Fatalf("Train: %v", err)
	}

	btCfg := &types.BacktestConfig{
		Symbols:        []string{"TEST"},
		StartDate:      strategy.Backtesting.StartDate,
		EndDate:        strategy.Backtesting.EndDate,
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(100000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
	}

	params := []tuning.Parameter{
		{Name: "stop_loss_pct", Type: tuning.ParamContinuous, Min: 0.02, Max: 0.08},
	}
	tuneCfg := tuning.Config{
		Method:          tuning.MethodRandom,
		MaxIterations:   2,
		ParallelWorkers: 2,
		Timeout:         time.Minute,
		Seed:            1,
	}

	result, err := orch.Tune(context.Background(), strategy, btCfg, 0, params, tuneCfg)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if len(result.Trials) == 0 {
		t.Fatal("expected at least one trial")
	}
	if _, ok := result.BestParams["stop_loss_pct"]; !ok {
		t.Fatal("expected stop_loss_pct in best params")
	}
}

func TestAssessViabilityGradesResult(t *testing.T) {
	orch, strategy := newTestOrchestrator(t)

	if _, err := orch.Train(context.Background(), strategy, "TEST", types.Timeframe1h, ""); err != nil {
		t.Fatalf("Train: %v", err)
	}

	btCfg := &types.BacktestConfig{
		Symbols:        []string{"TEST"},
		StartDate:      strategy.Backtesting.StartDate,
		EndDate:        strategy.Backtesting.EndDate,
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(100000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)},
	}

	result, err := orch.Backtest(context.Background(), strategy, btCfg, 0, "")
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}

	report := orch.AssessViability(result, nil, nil)
	if report.Grade == "" {
		t.Fatal("expected a non-empty grade")
	}

	robustness, err := orch.AnalyzeRobustness(context.Background(), strategy, btCfg, 0, nil)
	if err != nil {
		t.Fatalf("AnalyzeRobustness: %v", err)
	}
	withRobustness := orch.AssessViability(result, nil, robustness)
	if withRobustness.BootstrapRuinProbability != robustness.ProbabilityOfRuin {
		t.Fatalf("expected BootstrapRuinProbability to reflect the bootstrap pass, got %v want %v",
			withRobustness.BootstrapRuinProbability, robustness.ProbabilityOfRuin)
	}
}
