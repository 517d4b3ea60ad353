// Package orchestrator ties together every stage of a strategy run — data
// loading, indicator/fuzzy/feature assembly, model training, backtesting,
// and live inference — behind six operations: Train, Backtest, Predict,
// Tune, AnalyzeRobustness, and AssessViability. It is the one place that
// knows how to wire a *config.StrategyConfig into the concrete components
// each package exposes; nothing below it imports the others' config-shaped
// types directly.
//
// Narrowed from the teacher's TradingOrchestrator, which wired a live event
// bus, an HMM regime detector, a walk-forward optimizer, and an execution
// risk manager into one struct. Those responsibilities now live in their
// own packages (internal/regime, internal/backtester's own walk-forward
// pass, internal/tuning) and are composed here per run rather than held as
// long-lived orchestrator state — see DESIGN.md for what was dropped.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/ktrdr/ktrdr/internal/backtester"
	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/decision"
	"github.com/ktrdr/ktrdr/internal/features"
	"github.com/ktrdr/ktrdr/internal/indicators"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/internal/labels"
	"github.com/ktrdr/ktrdr/internal/model"
	"github.com/ktrdr/ktrdr/internal/montecarlo"
	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/internal/ohlcv"
	"github.com/ktrdr/ktrdr/internal/runpool"
	"github.com/ktrdr/ktrdr/internal/sizing"
	"github.com/ktrdr/ktrdr/internal/telemetry"
	"github.com/ktrdr/ktrdr/internal/tuning"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/ktrdr/ktrdr/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
	"go.uber.org/zap"
)

// Orchestrator wires the indicator/fuzzy/feature/model/decision/backtester
// packages into the four run operations, bound to one OHLCV cache and one
// model artifact store.
type Orchestrator struct {
	logger *zap.Logger
	cache  *ohlcv.Cache
	store  *model.Store
	runs   *observer.Registry
	pool   *runpool.Pool
}

// NewOrchestrator constructs an Orchestrator. runs is the registry the API
// façade's status endpoints query; pool schedules async runs submitted via
// TrainAsync/BacktestAsync.
func NewOrchestrator(logger *zap.Logger, cache *ohlcv.Cache, store *model.Store, runs *observer.Registry, pool *runpool.Pool) *Orchestrator {
	return &Orchestrator{logger: logger, cache: cache, store: store, runs: runs, pool: pool}
}

// TrainResult is the outcome of one Train call: the fitted network plus the
// artifact metadata persisted alongside it.
type TrainResult struct {
	Network *model.Network
	Meta    types.ModelArtifactMeta
	History []types.TrainingHistoryEntry
}

// Train runs the full supervised pipeline for one (symbol, timeframe) pair:
// load bars, compute indicators, assemble fuzzy features, label with
// ZigZag, chronologically split, fit a scaler, train the network, and
// persist a new versioned artifact. Registers runID in the orchestrator's
// observer registry so a status endpoint can watch it while it runs.
func (o *Orchestrator) Train(ctx context.Context, strategy *config.StrategyConfig, symbol string, timeframe types.Timeframe, runID string) (*TrainResult, error) {
	run := observer.NewRun(runID)
	o.runs.Register(run)
	return o.trainWithRun(ctx, strategy, symbol, timeframe, run)
}

// TrainAsync submits a training run to the worker pool and returns its run
// ID immediately; callers poll the registry (or the API façade) for status.
func (o *Orchestrator) TrainAsync(strategy *config.StrategyConfig, symbol string, timeframe types.Timeframe) (string, error) {
	runID := uuid.NewString()
	run := observer.NewRun(runID)
	o.runs.Register(run)
	err := o.pool.Submit(runpool.RunFunc(func(ctx context.Context) error {
		_, err := o.trainWithRun(ctx, strategy, symbol, timeframe, run)
		return err
	}))
	return runID, err
}

func (o *Orchestrator) trainWithRun(ctx context.Context, strategy *config.StrategyConfig, symbol string, timeframe types.Timeframe, run *observer.Run) (*TrainResult, error) {
	run.OnStart(run.Status().ID)
	telemetry.ActiveRuns.Inc()
	defer telemetry.ActiveRuns.Dec()

	result, err := o.train(ctx, strategy, symbol, timeframe, run)
	run.OnFinish(result, err)
	return result, err
}

func (o *Orchestrator) train(ctx context.Context, strategy *config.StrategyConfig, symbol string, timeframe types.Timeframe, run *observer.Run) (*TrainResult, error) {
	bars, err := o.cache.Load(symbol, timeframe, strategy.Backtesting.StartDate, strategy.Backtesting.EndDate)
	if err != nil {
		return nil, err
	}
	if err := ohlcv.Validate(bars, symbol); err != nil {
		return nil, err
	}

	barsView := indicators.BarsFromOHLCV(bars)
	outputs, maxWarmup, err := computeIndicatorOutputs(strategy, barsView)
	if err != nil {
		return nil, err
	}
	if len(bars) <= maxWarmup {
		return nil, &kerrors.InsufficientDataError{Have: len(bars), Need: maxWarmup + 1}
	}

	groups, err := features.Compile(strategy)
	if err != nil {
		return nil, err
	}
	matrix, err := features.Assemble(barsView, bars, outputs, groups, strategy.Model.Features)
	if err != nil {
		return nil, err
	}

	lbls := labels.Generate(barsView.Close, labels.Config{
		Threshold: strategy.Training.Labels.ZigzagThreshold,
		Lookahead: strategy.Training.Labels.LabelLookahead,
	})
	aligned := alignLabels(bars, lbls, matrix.Rows)

	trainCfg := model.TrainConfig{
		Architecture: model.Architecture{
			InputWidth: len(matrix.Columns),
			Hidden:     strategy.Model.Architecture.HiddenLayers,
			Activation: strategy.Model.Architecture.Activation,
			Dropout:    strategy.Model.Architecture.Dropout,
		},
		LearningRate: strategy.Model.Training.LearningRate,
		BatchSize:    strategy.Model.Training.BatchSize,
		MaxEpochs:    strategy.Model.Training.MaxEpochs,
		Patience:     strategy.Model.Training.Patience,
		MinDelta:     strategy.Model.Training.MinDelta,
		WeightDecay:  strategy.Model.Training.WeightDecay,
		Seed:         strategy.Model.Training.Seed,
		ClassWeights: strategy.Training.ClassWeights,
		TrainRatio:   strategy.Training.DataSplit.Train,
		ValRatio:     strategy.Training.DataSplit.Val,
		TestRatio:    strategy.Training.DataSplit.Test,
	}
	split := model.ChronologicalSplit(matrix.Rows, aligned, trainCfg)

	scaler := features.FitScaler(toFeatureRows(split.TrainX))
	scaleInPlace(split.TrainX, scaler)
	scaleInPlace(split.ValX, scaler)
	scaleInPlace(split.TestX, scaler)

	trainer := model.NewTrainer(o.logger, trainCfg)
	net, history, err := trainer.Fit(split, symbol, string(timeframe),
		run.OnCancelCheck,
		func(epoch, maxEpochs int) {
			run.OnProgress(epoch, maxEpochs)
			telemetry.IncTrainingEpoch(strategy.Name, symbol, string(timeframe))
		},
	)
	if err != nil {
		return nil, err
	}

	importance := model.PermutationImportance(net, matrix.Columns, split.ValX, split.ValY, trainCfg.Seed)

	meta := types.ModelArtifactMeta{
		Strategy:          strategy.Name,
		Symbol:            symbol,
		Timeframe:         string(timeframe),
		FeatureColumns:    matrix.Columns,
		Scaler:            scaler,
		ConfigHash:        hashConfig(strategy),
		TrainMetrics:      evalSet(net, split.TrainX, split.TrainY),
		ValMetrics:        evalSet(net, split.ValX, split.ValY),
		TestMetrics:       evalSet(net, split.TestX, split.TestY),
		FeatureImportance: importance,
		History:           history,
		CreatedAt:         time.Now(),
	}

	version, err := o.store.NextVersion(strategy.Name, symbol, string(timeframe))
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(strategy.Name, symbol, string(timeframe), version, net, meta); err != nil {
		return nil, err
	}
	meta.Version = version

	return &TrainResult{Network: net, Meta: meta, History: history}, nil
}

// Predict loads a strategy's latest (or a pinned) model artifact and runs
// one inference call against the most recently cached bars. version == 0
// resolves to the "latest" artifact pointer.
func (o *Orchestrator) Predict(ctx context.Context, strategy *config.StrategyConfig, symbol string, timeframe types.Timeframe, version int) (types.Decision, error) {
	net, meta, err := o.store.Load(strategy.Name, symbol, string(timeframe), version)
	if err != nil {
		return types.Decision{}, err
	}
	bars, err := o.cache.Load(symbol, timeframe, strategy.Backtesting.StartDate, strategy.Backtesting.EndDate)
	if err != nil {
		return types.Decision{}, err
	}
	if len(bars) == 0 {
		return types.Decision{}, &kerrors.InsufficientDataError{Have: 0, Need: 1}
	}

	engine, err := decision.NewEngine(strategy, net, meta)
	if err != nil {
		return types.Decision{}, err
	}
	return engine.Decide(bars, len(bars)-1)
}

// Backtest loads a strategy's model artifact, assembles the decision engine
// and position sizer the backtester needs, and runs one event-driven
// backtest over btCfg's window.
func (o *Orchestrator) Backtest(ctx context.Context, strategy *config.StrategyConfig, btCfg *types.BacktestConfig, version int, runID string) (*types.BacktestResult, error) {
	run := observer.NewRun(runID)
	o.runs.Register(run)
	return o.backtestWithRun(ctx, strategy, btCfg, version, run)
}

// BacktestAsync submits a backtest run to the worker pool and returns its
// run ID immediately.
func (o *Orchestrator) BacktestAsync(strategy *config.StrategyConfig, btCfg *types.BacktestConfig, version int) (string, error) {
	runID := uuid.NewString()
	run := observer.NewRun(runID)
	o.runs.Register(run)
	err := o.pool.Submit(runpool.RunFunc(func(ctx context.Context) error {
		_, err := o.backtestWithRun(ctx, strategy, btCfg, version, run)
		return err
	}))
	return runID, err
}

func (o *Orchestrator) backtestWithRun(ctx context.Context, strategy *config.StrategyConfig, btCfg *types.BacktestConfig, version int, run *observer.Run) (*types.BacktestResult, error) {
	telemetry.ActiveRuns.Inc()
	defer telemetry.ActiveRuns.Dec()

	if btCfg.ID == "" {
		btCfg.ID = run.Status().ID
	}

	if len(btCfg.Symbols) == 0 {
		err := &kerrors.ConfigError{Field: "symbols", Message: "at least one symbol is required"}
		run.OnFinish(nil, err)
		return nil, err
	}

	net, meta, err := o.store.Load(strategy.Name, btCfg.Symbols[0], string(btCfg.Timeframe), version)
	if err != nil {
		run.OnFinish(nil, err)
		return nil, err
	}
	decisionEngine, err := decision.NewEngine(strategy, net, meta)
	if err != nil {
		run.OnFinish(nil, err)
		return nil, err
	}
	sizer := sizing.NewSizer(strategy.RiskManagement)
	slippageModel := backtester.CreateSlippageModel(btCfg.Slippage)
	loader := cacheLoader{cache: o.cache}

	engine := backtester.NewEngine(o.logger, loader, slippageModel, decisionEngine, sizer, run)
	result, err := engine.Run(ctx, btCfg)
	if err == nil && len(result.EquityCurve) > 0 {
		last := result.EquityCurve[len(result.EquityCurve)-1]
		equity, _ := last.Equity.Float64()
		drawdown, _ := last.Drawdown.Float64()
		telemetry.SetEquity(btCfg.ID, equity)
		telemetry.SetDrawdown(btCfg.ID, drawdown)
	}
	if err == nil && btCfg.Validation.WalkForward.Enabled {
		wf := backtester.NewWalkForwardAnalyzer(o.logger, loader, slippageModel, decisionEngine, sizer)
		wfResult, wfErr := wf.Run(ctx, btCfg)
		if wfErr != nil {
			o.logger.Warn("walk-forward analysis failed", zap.Error(wfErr))
		} else {
			result.WalkForwardResult = wfResult
		}
	}
	run.OnFinish(result, err)
	return result, err
}

// AssessViability scores a completed backtest result against a set of
// pass/fail thresholds (Sharpe, drawdown, profit factor, win rate, trade
// count, VaR, and, when present, walk-forward robustness) and returns a
// graded report. It is a separate step from Backtest because the
// thresholds are an operator policy, not part of the strategy config
// itself — callers who don't need a graded report can ignore it entirely.
// When robustness is non-nil (typically the output of AnalyzeRobustness run
// against the same strategy/config/version), its bootstrap ruin probability
// is folded into the report's RobustnessScore.
func (o *Orchestrator) AssessViability(result *types.BacktestResult, thresholds *backtester.ViabilityThresholds, robustness *montecarlo.SimulationResult) *backtester.ViabilityReport {
	if thresholds == nil {
		thresholds = backtester.DefaultViabilityThresholds()
	}
	checker := backtester.NewViabilityChecker(thresholds)
	report := checker.Check(result)
	if robustness != nil {
		checker.ApplyBootstrapRobustness(report, robustness)
	}
	return report
}

// Tune searches risk_management's position-sizing parameters for the
// combination that maximizes a backtest's Sharpe ratio, replaying
// btCfg/version with each candidate parameter set. Each trial runs through
// the same Backtest path a standalone run would, so tuning always scores a
// real, fully-wired backtest rather than an approximation of one.
func (o *Orchestrator) Tune(ctx context.Context, strategy *config.StrategyConfig, btCfg *types.BacktestConfig, version int, params []tuning.Parameter, tuneCfg tuning.Config) (tuning.Result, error) {
	tuner := tuning.NewTuner(o.logger, tuneCfg)

	objective := func(p tuning.ParamSet) (float64, error) {
		trial := *strategy
		if v, ok := p["stop_loss_pct"]; ok {
			trial.RiskManagement.StopLossPct = v
		}
		if v, ok := p["take_profit_pct"]; ok {
			trial.RiskManagement.TakeProfitPct = v
		}
		if v, ok := p["fraction"]; ok {
			trial.RiskManagement.PositionSizing.Fraction = v
		}
		if v, ok := p["kelly_fraction"]; ok {
			trial.RiskManagement.PositionSizing.KellyFraction = v
		}

		result, err := o.Backtest(ctx, &trial, btCfg, version, uuid.NewString())
		if err != nil {
			return 0, err
		}
		sharpe, _ := result.Metrics.SharpeRatio.Float64()
		return sharpe, nil
	}

	return tuner.Run(ctx, params, objective)
}

// AnalyzeRobustness runs a backtest and then resamples its closed trades
// thousands of times (bootstrap with replacement) to report how sensitive
// the result's Sharpe ratio, drawdown, and ruin probability are to trade
// ordering — a heavier, standalone robustness pass distinct from the
// Backtest operation's own embedded Monte Carlo summary (which reshuffles
// the closed-trade PnL sequence inline as part of a single run, sized by
// BacktestConfig.Validation.MonteCarlo).
func (o *Orchestrator) AnalyzeRobustness(ctx context.Context, strategy *config.StrategyConfig, btCfg *types.BacktestConfig, version int, simCfg *montecarlo.SimulatorConfig) (*montecarlo.SimulationResult, error) {
	result, err := o.Backtest(ctx, strategy, btCfg, version, uuid.NewString())
	if err != nil {
		return nil, err
	}

	sequence, pnls := tradeSequenceFromTrades(result.Trades)
	if len(sequence.Returns) == 0 {
		return nil, &kerrors.InsufficientDataError{Have: 0, Need: 1}
	}

	sim := montecarlo.NewSimulator(o.logger, simCfg)
	simResult := sim.RunSimulation(sequence, btCfg.InitialCapital)

	// The realized win rate and profit factor are computed straight off the
	// closed trades. When the simulator draws with replacement (the default
	// config), each resampled run's win rate varies around the realized one,
	// and a realized value more than two standard deviations from the
	// simulated mean is logged as a warning. Without replacement every run is
	// a permutation of the same trades, the win-rate spread is zero, and the
	// comparison is skipped.
	realizedWinRate, _ := utils.CalculateWinRate(pnls).Float64()
	realizedProfitFactor, _ := utils.CalculateProfitFactor(pnls).Float64()
	if simResult.WinRate != nil && simResult.WinRate.StdDev > 0 {
		if math.Abs(realizedWinRate-simResult.WinRate.Mean) > 2*simResult.WinRate.StdDev {
			o.logger.Warn("realized win rate sits outside the bootstrap's 2-sigma band",
				zap.Float64("realized_win_rate", realizedWinRate),
				zap.Float64("bootstrap_mean", simResult.WinRate.Mean),
				zap.Float64("bootstrap_std_dev", simResult.WinRate.StdDev))
		}
	}
	o.logger.Info("realized trade statistics vs. bootstrap distribution",
		zap.Float64("realized_win_rate", realizedWinRate),
		zap.Float64("realized_profit_factor", realizedProfitFactor))

	return simResult, nil
}

// tradeSequenceFromTrades turns closed trades into a per-trade return
// series: PnL as a fraction of the capital committed to that trade. Every
// entry in trades is already a closing fill — a long's Sell-side close or a
// short's Buy-side cover, since the engine only ever appends to its trade
// log on the fill that reduces a position, never on the one that opens it —
// so both sides are included here. It also returns the raw decimal PnLs so
// callers can compute exact (non-resampled) realized statistics with
// pkg/utils alongside the bootstrap.
func tradeSequenceFromTrades(trades []types.Trade) (*montecarlo.TradeSequence, []decimal.Decimal) {
	seq := &montecarlo.TradeSequence{
		Returns:    make([]float64, 0, len(trades)),
		Timestamps: make([]time.Time, 0, len(trades)),
		Symbols:    make([]string, 0, len(trades)),
	}
	pnls := make([]decimal.Decimal, 0, len(trades))
	for _, t := range trades {
		notional := t.Price.Mul(t.Quantity)
		if notional.IsZero() {
			continue
		}
		ret, _ := t.PnL.Div(notional).Float64()
		seq.Returns = append(seq.Returns, ret)
		seq.Timestamps = append(seq.Timestamps, t.ExecutedAt)
		seq.Symbols = append(seq.Symbols, t.Symbol)
		pnls = append(pnls, t.PnL)
	}
	return seq, pnls
}

// cacheLoader adapts *ohlcv.Cache (no ctx parameter, single-process cache
// reads) to backtester.DataLoader's context-aware signature.
type cacheLoader struct {
	cache *ohlcv.Cache
}

func (c cacheLoader) LoadOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	return c.cache.Load(symbol, timeframe, start, end)
}

// computeIndicatorOutputs runs every configured indicator over the full bar
// series, mirroring internal/decision.Engine.Decide's per-call computation
// but over the whole history training needs rather than one inference
// window.
func computeIndicatorOutputs(strategy *config.StrategyConfig, bars indicators.Bars) (features.IndicatorOutputs, int, error) {
	outputs := make(features.IndicatorOutputs, len(strategy.Indicators))
	maxWarmup := 0
	for _, ind := range strategy.Indicators {
		def, ok := indicators.Lookup(ind.Name)
		if !ok {
			return nil, 0, &kerrors.ConfigError{Field: "indicators", Message: "unknown indicator " + ind.Name}
		}
		params, err := def.Validate(ind.Parameters)
		if err != nil {
			return nil, 0, err
		}
		if w := def.Warmup(params); w > maxWarmup {
			maxWarmup = w
		}
		out, err := def.Compute(bars, params)
		if err != nil {
			return nil, 0, err
		}
		outputs[ind.Name] = out
	}
	return outputs, maxWarmup, nil
}

// alignLabels maps the full-series ZigZag labels onto the (sparser,
// warmup-trimmed) feature matrix rows by timestamp, since Assemble drops
// any bar whose feature vector contains a missing value.
func alignLabels(bars []types.OHLCV, lbls []types.Label, rows []types.FeatureRow) []types.Label {
	byTime := make(map[time.Time]types.Label, len(bars))
	for i, b := range bars {
		byTime[b.Timestamp] = lbls[i]
	}
	aligned := make([]types.Label, len(rows))
	for i, row := range rows {
		aligned[i] = byTime[row.Timestamp]
	}
	return aligned
}

func toFeatureRows(x [][]float64) []types.FeatureRow {
	rows := make([]types.FeatureRow, len(x))
	for i, v := range x {
		rows[i] = types.FeatureRow{Values: v}
	}
	return rows
}

// scaleInPlace standardizes x using scaler, mutating the underlying row
// slices directly: ApplyScaler writes through the FeatureRow.Values slice
// header, which aliases x's rows.
func scaleInPlace(x [][]float64, scaler types.ScalerState) {
	features.ApplyScaler(toFeatureRows(x), scaler)
}

func toMatrix(x [][]float64) *mat.Dense {
	if len(x) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	n, d := len(x), len(x[0])
	data := make([]float64, 0, n*d)
	for _, row := range x {
		data = append(data, row...)
	}
	return mat.NewDense(n, d, data)
}

// evalSet scores a split's accuracy and mean cross-entropy loss, the same
// two figures internal/model's training loop tracks per epoch, for the
// train/val/test metrics persisted with the artifact.
func evalSet(net *model.Network, x [][]float64, y []types.Direction) map[string]float64 {
	if len(x) == 0 {
		return map[string]float64{"loss": 0, "accuracy": 0}
	}
	probs := net.Predict(toMatrix(x))
	rows, _ := probs.Dims()
	correct := 0
	var loss float64
	for i := 0; i < rows; i++ {
		label := y[i]
		p := probs.At(i, int(label))
		if p < 1e-12 {
			p = 1e-12
		}
		loss -= math.Log(p)

		argmax, best := 0, probs.At(i, 0)
		for j := 1; j < 3; j++ {
			if probs.At(i, j) > best {
				best, argmax = probs.At(i, j), j
			}
		}
		if types.Direction(argmax) == label {
			correct++
		}
	}
	return map[string]float64{
		"loss":     loss / float64(rows),
		"accuracy": float64(correct) / float64(rows),
	}
}

// hashConfig fingerprints a strategy config so a model artifact can record
// which config version produced it, without the model package depending on
// internal/config for equality comparisons.
func hashConfig(strategy *config.StrategyConfig) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", strategy)))
	return hex.EncodeToString(sum[:])[:16]
}
