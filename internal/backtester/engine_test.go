// Package backtester_test provides tests for the backtesting engine.
package backtester_test

import (
	"context"
	"testing"
	"time"

	"github.com/ktrdr/ktrdr/internal/backtester"
	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/internal/sizing"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeDataLoader serves a fixed, synthetically trending OHLCV series so a
// test run can exercise entries, exits, and an end-of-data close without
// reading from disk.
type fakeDataLoader struct {
	bars []types.OHLCV
}

func newFakeDataLoader(n int) *fakeDataLoader {
	bars := make([]types.OHLCV, n)
	start := time.Now().AddDate(0, 0, -n)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		price = price.Add(decimal.NewFromFloat(0.5))
		bars[i] = types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return &fakeDataLoader{bars: bars}
}

func (f *fakeDataLoader) LoadOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	return f.bars, nil
}

// fakeDecisionEngine returns BUY at entryIdx and SELL at exitIdx, holding
// otherwise, so a test run produces at most one long position.
type fakeDecisionEngine struct {
	entryIdx, exitIdx int
}

func (f *fakeDecisionEngine) Decide(bars []types.OHLCV, upto int) (types.Decision, error) {
	switch upto {
	case f.entryIdx:
		return types.Decision{Signal: types.DirectionBuy, Confidence: 0.9}, nil
	case f.exitIdx:
		return types.Decision{Signal: types.DirectionSell, Confidence: 0.9}, nil
	default:
		return types.Decision{Signal: types.DirectionHold, Confidence: 0.5}, nil
	}
}

// fakeSizer always buys a fixed quantity and arms no protective orders,
// isolating the round-trip test from risk_management config shape.
type fakeSizer struct {
	qty decimal.Decimal
}

func (f *fakeSizer) Size(req sizing.Request) (decimal.Decimal, error) {
	return f.qty, nil
}

func (f *fakeSizer) StopLossPrice(entry decimal.Decimal, long bool) decimal.Decimal {
	return decimal.Zero
}

func (f *fakeSizer) TakeProfitPrice(entry decimal.Decimal, long bool) decimal.Decimal {
	return decimal.Zero
}

func newTestConfig(id string) *types.BacktestConfig {
	return &types.BacktestConfig{
		ID:             id,
		Symbols:        []string{"SOL/USDT"},
		StartDate:      time.Now().AddDate(0, -1, 0),
		EndDate:        time.Now(),
		Timeframe:      types.Timeframe1h,
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
	}
}

func TestEngineRun(t *testing.T) {
	logger := zap.NewNop()
	loader := newFakeDataLoader(20)
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	decisionEngine := &fakeDecisionEngine{entryIdx: 2, exitIdx: 17}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}

	engine := backtester.NewEngine(logger, loader, slippageModel, decisionEngine, sizer, nil)

	config := newTestConfig("test-backtest")
	ctx := context.Background()
	result, err := engine.Run(ctx, config)
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}

	if result == nil {
		t.Fatal("Result is nil")
	}
	if result.ID != config.ID {
		t.Errorf("Expected ID %s, got %s", config.ID, result.ID)
	}
	if result.EventsProcessed == 0 {
		t.Error("No events were processed")
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 round-trip trade, got %d", len(result.Trades))
	}
	if result.Trades[0].ExitReason != backtester.ExitReversal {
		t.Errorf("Expected reversal exit, got %s", result.Trades[0].ExitReason)
	}

	t.Logf("Backtest completed: %d events processed, %d trades",
		result.EventsProcessed, len(result.Trades))
}

func TestEngineClosesOpenPositionAtEndOfData(t *testing.T) {
	logger := zap.NewNop()
	loader := newFakeDataLoader(10)
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	// exitIdx beyond the series: position never gets a reversal signal, so
	// it must be force-closed at end of data.
	decisionEngine := &fakeDecisionEngine{entryIdx: 1, exitIdx: 999}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}

	engine := backtester.NewEngine(logger, loader, slippageModel, decisionEngine, sizer, observer.Noop{})

	result, err := engine.Run(context.Background(), newTestConfig("eod-close"))
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 trade (forced close), got %d", len(result.Trades))
	}
	if result.Trades[0].ExitReason != backtester.ExitEndOfData {
		t.Errorf("Expected end_of_data exit, got %s", result.Trades[0].ExitReason)
	}
}

func TestEngineCancellation(t *testing.T) {
	logger := zap.NewNop()
	loader := newFakeDataLoader(500)
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	decisionEngine := &fakeDecisionEngine{entryIdx: 1, exitIdx: 3}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}

	engine := backtester.NewEngine(logger, loader, slippageModel, decisionEngine, sizer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, newTestConfig("cancelled"))
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
}

func TestPortfolio(t *testing.T) {
	portfolio := backtester.NewPortfolio(decimal.NewFromInt(10000))

	if !portfolio.GetCash().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Initial cash incorrect: %s", portfolio.GetCash())
	}
	if !portfolio.GetEquity().Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Initial equity incorrect: %s", portfolio.GetEquity())
	}

	portfolio.Buy("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(1))

	expectedCash := decimal.NewFromInt(10000 - 1000 - 1) // 10 * 100 + 1 commission
	if !portfolio.GetCash().Equal(expectedCash) {
		t.Errorf("Cash after buy incorrect: expected %s, got %s", expectedCash, portfolio.GetCash())
	}

	pos := portfolio.GetPosition("SOL/USDT")
	if pos == nil {
		t.Fatal("Position not created")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Position quantity incorrect: %s", pos.Quantity)
	}

	portfolio.UpdatePrice("SOL/USDT", decimal.NewFromInt(110))

	expectedEquity := expectedCash.Add(decimal.NewFromInt(10 * 110))
	if !portfolio.GetEquity().Equal(expectedEquity) {
		t.Errorf("Equity after price update incorrect: expected %s, got %s",
			expectedEquity, portfolio.GetEquity())
	}

	pnl := portfolio.Sell("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(110), decimal.NewFromInt(1))

	expectedPnL := decimal.NewFromInt(99) // (110 - 100) * 10 - 1 commission
	if !pnl.Equal(expectedPnL) {
		t.Errorf("PnL incorrect: expected %s, got %s", expectedPnL, pnl)
	}

	if portfolio.GetPosition("SOL/USDT") != nil {
		t.Error("Position should be closed after full sell")
	}
}

func TestPortfolioShortOpenAndCover(t *testing.T) {
	portfolio := backtester.NewPortfolio(decimal.NewFromInt(10000))

	// Sell with no existing position opens a short.
	pnl := portfolio.Sell("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(100), decimal.NewFromInt(1))
	if !pnl.IsZero() {
		t.Fatalf("expected no realized PnL on a short entry, got %s", pnl)
	}

	pos := portfolio.GetPosition("SOL/USDT")
	if pos == nil {
		t.Fatal("expected a short position to be created")
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(-10)) {
		t.Errorf("expected negative quantity for a short, got %s", pos.Quantity)
	}

	expectedCash := decimal.NewFromInt(10000 + 1000 - 1) // proceeds from the sale, minus commission
	if !portfolio.GetCash().Equal(expectedCash) {
		t.Errorf("cash after short entry incorrect: expected %s, got %s", expectedCash, portfolio.GetCash())
	}

	portfolio.UpdatePrice("SOL/USDT", decimal.NewFromInt(90))

	// Buy covers the short; price fell, so the short is profitable.
	pnl = portfolio.Buy("SOL/USDT", decimal.NewFromInt(10), decimal.NewFromInt(90), decimal.NewFromInt(1))
	expectedPnL := decimal.NewFromInt(99) // (100 - 90) * 10 - 1 commission
	if !pnl.Equal(expectedPnL) {
		t.Errorf("short cover PnL incorrect: expected %s, got %s", expectedPnL, pnl)
	}
	if portfolio.GetPosition("SOL/USDT") != nil {
		t.Error("position should be closed after a full cover")
	}
}

// shortDecisionEngine returns SELL at entryIdx and BUY at exitIdx, exercising
// the engine's SELL-to-open / BUY-to-cover path.
type shortDecisionEngine struct {
	entryIdx, exitIdx int
}

func (f *shortDecisionEngine) Decide(bars []types.OHLCV, upto int) (types.Decision, error) {
	switch upto {
	case f.entryIdx:
		return types.Decision{Signal: types.DirectionSell, Confidence: 0.9}, nil
	case f.exitIdx:
		return types.Decision{Signal: types.DirectionBuy, Confidence: 0.9}, nil
	default:
		return types.Decision{Signal: types.DirectionHold, Confidence: 0.5}, nil
	}
}

func TestEngineRunsShortRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	loader := newFakeDataLoader(20)
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	decisionEngine := &shortDecisionEngine{entryIdx: 2, exitIdx: 17}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}

	engine := backtester.NewEngine(logger, loader, slippageModel, decisionEngine, sizer, nil)

	result, err := engine.Run(context.Background(), newTestConfig("short-backtest"))
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 round-trip trade, got %d", len(result.Trades))
	}
	if result.Trades[0].Side != types.OrderSideBuy {
		t.Errorf("expected the short to be closed with a BUY (cover), got %s", result.Trades[0].Side)
	}
	if result.Trades[0].ExitReason != backtester.ExitReversal {
		t.Errorf("Expected reversal exit, got %s", result.Trades[0].ExitReason)
	}
	// Prices trend upward across the series, so a short held over this
	// window should realize a loss.
	if result.Trades[0].PnL.GreaterThan(decimal.Zero) {
		t.Errorf("expected a losing short in a rising market, got PnL %s", result.Trades[0].PnL)
	}
}

func TestEngineClosesOpenShortAtEndOfData(t *testing.T) {
	logger := zap.NewNop()
	loader := newFakeDataLoader(10)
	slippageModel := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	decisionEngine := &shortDecisionEngine{entryIdx: 1, exitIdx: 999}
	sizer := &fakeSizer{qty: decimal.NewFromInt(1)}

	engine := backtester.NewEngine(logger, loader, slippageModel, decisionEngine, sizer, observer.Noop{})

	result, err := engine.Run(context.Background(), newTestConfig("short-eod-close"))
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 trade (forced cover), got %d", len(result.Trades))
	}
	if result.Trades[0].ExitReason != backtester.ExitEndOfData {
		t.Errorf("Expected end_of_data exit, got %s", result.Trades[0].ExitReason)
	}
	if result.Trades[0].Side != types.OrderSideBuy {
		t.Errorf("expected the open short to be force-covered with a BUY, got %s", result.Trades[0].Side)
	}
}

func TestSlippageModels(t *testing.T) {
	fixed := backtester.NewFixedSlippage(decimal.NewFromInt(10))
	slip := fixed.Calculate(nil, nil)

	expected := decimal.NewFromFloat(0.001) // 10 bps = 0.1%
	if !slip.Equal(expected) {
		t.Errorf("Fixed slippage incorrect: expected %s, got %s", expected, slip)
	}

	vw := backtester.NewVolumeWeightedSlippage(
		decimal.NewFromInt(10),
		decimal.NewFromFloat(0.1),
		decimal.NewFromFloat(0.1),
	)

	slip = vw.Calculate(nil, nil)
	if slip.LessThan(expected) {
		t.Errorf("Volume-weighted slippage should be at least base: %s", slip)
	}
}

func TestCreateSlippageModel(t *testing.T) {
	model := backtester.CreateSlippageModel(types.SlippageConfig{Model: "volume_weighted", FixedBps: decimal.NewFromInt(5)})
	if _, ok := model.(*backtester.VolumeWeightedSlippage); !ok {
		t.Errorf("Expected VolumeWeightedSlippage, got %T", model)
	}

	model = backtester.CreateSlippageModel(types.SlippageConfig{Model: "fixed", FixedBps: decimal.NewFromInt(5)})
	if _, ok := model.(*backtester.FixedSlippage); !ok {
		t.Errorf("Expected FixedSlippage, got %T", model)
	}
}

func TestMetricsCalculator(t *testing.T) {
	calc := backtester.NewMetricsCalculator()

	trades := []*types.Trade{
		{PnL: decimal.NewFromInt(100)},
		{PnL: decimal.NewFromInt(50)},
		{PnL: decimal.NewFromInt(-30)},
		{PnL: decimal.NewFromInt(80)},
		{PnL: decimal.NewFromInt(-20)},
	}

	equityCurve := []types.EquityCurvePoint{
		{Timestamp: time.Now().Add(-5 * time.Hour), Equity: decimal.NewFromInt(10000)},
		{Timestamp: time.Now().Add(-4 * time.Hour), Equity: decimal.NewFromInt(10100)},
		{Timestamp: time.Now().Add(-3 * time.Hour), Equity: decimal.NewFromInt(10150)},
		{Timestamp: time.Now().Add(-2 * time.Hour), Equity: decimal.NewFromInt(10120)},
		{Timestamp: time.Now().Add(-1 * time.Hour), Equity: decimal.NewFromInt(10200)},
		{Timestamp: time.Now(), Equity: decimal.NewFromInt(10180)},
	}

	metrics := calc.Calculate(trades, equityCurve, decimal.NewFromInt(10000))

	if metrics.TotalTrades != 5 {
		t.Errorf("Total trades incorrect: %d", metrics.TotalTrades)
	}
	if metrics.WinningTrades != 3 {
		t.Errorf("Winning trades incorrect: %d", metrics.WinningTrades)
	}
	if metrics.LosingTrades != 2 {
		t.Errorf("Losing trades incorrect: %d", metrics.LosingTrades)
	}

	expectedWinRate := decimal.NewFromFloat(0.6) // 3/5
	if !metrics.WinRate.Equal(expectedWinRate) {
		t.Errorf("Win rate incorrect: expected %s, got %s", expectedWinRate, metrics.WinRate)
	}

	expectedReturn := decimal.NewFromFloat(0.018) // (10180 - 10000) / 10000
	if metrics.TotalReturn.Sub(expectedReturn).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Errorf("Total return incorrect: expected ~%s, got %s", expectedReturn, metrics.TotalReturn)
	}
}

func TestMonteCarloSimulator(t *testing.T) {
	logger := zap.NewNop()

	config := types.MonteCarloConfig{
		Enabled:         true,
		Iterations:      100,
		ConfidenceLevel: decimal.NewFromFloat(0.95),
	}

	mc := backtester.NewMonteCarloSimulator(logger, config)

	trades := make([]*types.Trade, 50)
	for i := 0; i < 50; i++ {
		pnl := decimal.NewFromInt(int64((i%3 - 1) * 10)) // -10, 0, 10 pattern
		trades[i] = &types.Trade{PnL: pnl}
	}

	result := mc.Run(trades)

	if result.Iterations != 100 {
		t.Errorf("Iterations incorrect: %d", result.Iterations)
	}
	if result.P5Return.GreaterThan(result.MedianReturn) {
		t.Error("P5 should be less than median")
	}
	if result.P95Return.LessThan(result.MedianReturn) {
		t.Error("P95 should be greater than median")
	}

	t.Logf("Monte Carlo: P5=%s, Median=%s, P95=%s, Ruin=%s",
		result.P5Return, result.MedianReturn, result.P95Return, result.ProbabilityRuin)
}
