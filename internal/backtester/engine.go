// Package backtester provides the core event-driven backtesting engine.
// The loop itself is unchanged from the teacher's design (a single
// priority-ordered event queue, processed synchronously bar by bar); what
// changed is what drives it: generateSignal and calculatePositionSize used
// to be stubs with a comment saying "strategy logic goes here" — they now
// call the decision engine (indicator -> fuzzy -> feature -> model) and the
// position sizer on every bar, the same two components the predict
// operation uses for live inference.
package backtester

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ktrdr/ktrdr/internal/backtester/events"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/internal/regime"
	"github.com/ktrdr/ktrdr/internal/sizing"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit reasons a closing trade can carry, per the stop -> take-profit ->
// reversal -> end-of-data evaluation order.
const (
	ExitStop        = "stop"
	ExitTakeProfit  = "take_profit"
	ExitReversal    = "reversal"
	ExitEndOfData   = "end_of_data"
	ExitCancelled   = "cancelled"
)

// Engine is the core event-driven backtesting engine
type Engine struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	config         *types.BacktestConfig
	dataLoader     DataLoader
	slippageModel  SlippageModel
	decisionEngine DecisionEngine
	sizer          PositionSizer
	obs            observer.Observer

	eventQueue   *events.EventQueue
	portfolio    *Portfolio
	orderManager *OrderManager
	metricsCalc  *MetricsCalculator

	// Per-symbol bar history and cursor, so generateSignal can call
	// decisionEngine.Decide(bars, upto) with exactly the bars observed so
	// far for that symbol — never a bar ahead.
	bars   map[string][]types.OHLCV
	barIdx map[string]int

	// positionDir tracks each symbol's intended position synchronously as
	// signals/fills are decided, so a same-bar stop/take-profit fill and a
	// same-bar reversal signal never race against each other: a protective
	// fill flips this to DirectionHold before generateSignal runs for that
	// bar.
	positionDir      map[string]types.Direction
	protectiveOrders map[string][2]string // symbol -> [stopOrderID, takeProfitOrderID]
	exitReasonByOrder map[string]string

	winCount, lossCount   int
	sumWinPct, sumLossPct float64

	// State
	running         atomic.Bool
	cancelled       atomic.Bool
	currentTime     time.Time
	eventsProcessed atomic.Uint64

	// Results
	trades      []*types.Trade
	equityCurve []types.EquityCurvePoint

	// Progress callback
	progressChan chan *types.BacktestProgress
}

// DataLoader loads the OHLCV series a backtest run needs, one symbol at a
// time. Narrowed from the teacher's tick/order-book-aware interface: the
// decision engine and portfolio simulation only ever consume closed bars.
type DataLoader interface {
	LoadOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error)
}

// DecisionEngine produces a (signal, confidence) decision from bars observed
// so far. Satisfied by *internal/decision.Engine; an interface here so the
// backtester can be exercised with a fake in tests without assembling a
// full indicator/fuzzy/model pipeline.
type DecisionEngine interface {
	Decide(bars []types.OHLCV, upto int) (types.Decision, error)
}

// PositionSizer sizes a new entry and prices its protective orders.
// Satisfied by *internal/sizing.Sizer.
type PositionSizer interface {
	Size(req sizing.Request) (decimal.Decimal, error)
	StopLossPrice(entry decimal.Decimal, long bool) decimal.Decimal
	TakeProfitPrice(entry decimal.Decimal, long bool) decimal.Decimal
}

// NewEngine creates a new backtesting engine. decisionEngine and sizer are
// the same components the predict operation uses, so a backtest run and a
// live decision share identical signal-generation and position-sizing
// logic.
func NewEngine(logger *zap.Logger, dataLoader DataLoader, slippageModel SlippageModel, decisionEngine DecisionEngine, sizer PositionSizer, obs observer.Observer) *Engine {
	if obs == nil {
		obs = observer.Noop{}
	}
	return &Engine{
		logger:         logger,
		dataLoader:     dataLoader,
		slippageModel:  slippageModel,
		decisionEngine: decisionEngine,
		sizer:          sizer,
		obs:            obs,
		eventQueue:     events.NewEventQueue(),
		trades:         make([]*types.Trade, 0),
		equityCurve:    make([]types.EquityCurvePoint, 0),
		progressChan:   make(chan *types.BacktestProgress, 100),
	}
}

// Run executes a backtest with the given configuration
func (e *Engine) Run(ctx context.Context, config *types.BacktestConfig) (*types.BacktestResult, error) {
	e.mu.Lock()
	if e.running.Load() {
		e.mu.Unlock()
		return nil, fmt.Errorf("backtest already running")
	}
	e.running.Store(true)
	e.cancelled.Store(false)
	e.mu.Unlock()

	defer func() {
		e.running.Store(false)
	}()

	startTime := time.Now()
	e.config = config

	// Initialize components
	e.portfolio = NewPortfolio(config.InitialCapital)
	e.orderManager = NewOrderManager(e.logger, config.Commission)
	e.metricsCalc = NewMetricsCalculator()

	// Reset state
	e.trades = e.trades[:0]
	e.equityCurve = e.equityCurve[:0]
	e.eventsProcessed.Store(0)
	e.eventQueue.Clear()
	e.bars = make(map[string][]types.OHLCV)
	e.barIdx = make(map[string]int)
	e.positionDir = make(map[string]types.Direction)
	e.protectiveOrders = make(map[string][2]string)
	e.exitReasonByOrder = make(map[string]string)
	e.winCount, e.lossCount = 0, 0
	e.sumWinPct, e.sumLossPct = 0, 0

	e.obs.OnStart(config.ID)

	// Load market data and create events
	totalEvents, err := e.loadMarketData(ctx, config)
	if err != nil {
		e.obs.OnFinish(nil, err)
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}

	e.logger.Info("starting backtest",
		zap.String("id", config.ID),
		zap.Int("symbols", len(config.Symbols)),
		zap.Uint64("totalEvents", totalEvents),
	)

	// Main event loop. Single-threaded and synchronous: bars are never
	// processed out of chronological order, and there is no suspension
	// point other than the cancellation check below.
	for e.eventQueue.Len() > 0 {
		select {
		case <-ctx.Done():
			e.closeAllPositions(ExitCancelled)
			cancelErr := &kerrors.CancelledError{Stage: "backtest", At: int(e.eventsProcessed.Load())}
			e.obs.OnFinish(nil, cancelErr)
			return nil, cancelErr
		default:
		}

		if e.cancelled.Load() || e.obs.OnCancelCheck() {
			e.closeAllPositions(ExitCancelled)
			cancelErr := &kerrors.CancelledError{Stage: "backtest", At: int(e.eventsProcessed.Load())}
			e.obs.OnFinish(nil, cancelErr)
			return nil, cancelErr
		}

		event := e.eventQueue.Pop()
		e.currentTime = event.GetTimestamp()
		e.eventsProcessed.Add(1)

		if err := e.processEvent(event); err != nil {
			e.logger.Error("error processing event",
				zap.Error(err),
				zap.String("eventType", string(event.GetType())),
			)
		}

		if e.eventsProcessed.Load()%1000 == 0 {
			e.sendProgress(totalEvents)
			e.obs.OnProgress(int(e.eventsProcessed.Load()), int(totalEvents))
		}
	}

	// End of data: any symbol still holding a position is closed at its
	// last observed price.
	e.closeAllPositions(ExitEndOfData)

	// Calculate final metrics
	metrics := e.metricsCalc.Calculate(e.trades, e.equityCurve, e.config.InitialCapital)
	riskMetrics := e.metricsCalc.CalculateRiskMetrics(e.equityCurve)

	result := &types.BacktestResult{
		ID:              config.ID,
		Config:          config,
		Metrics:         metrics,
		RiskMetrics:     riskMetrics,
		EquityCurve:     e.equityCurve,
		Trades:          e.tradesToTypes(),
		StartedAt:       startTime,
		CompletedAt:     time.Now(),
		Duration:        time.Since(startTime),
		EventsProcessed: e.eventsProcessed.Load(),
	}

	if config.Validation.MonteCarlo.Enabled {
		result.MonteCarloResult = e.runMonteCarlo(config.Validation.MonteCarlo)
	}
	if config.Validation.WalkForward.Enabled {
		wfResult, err := e.runWalkForward(ctx, config)
		if err != nil {
			e.logger.Warn("walk-forward analysis failed", zap.Error(err))
		} else {
			result.WalkForwardResult = wfResult
		}
	}

	e.logger.Info("backtest completed",
		zap.String("id", config.ID),
		zap.Duration("duration", result.Duration),
		zap.Int("trades", len(result.Trades)),
		zap.String("totalReturn", metrics.TotalReturn.String()),
	)

	e.obs.OnFinish(result, nil)
	return result, nil
}

// Cancel cancels a running backtest
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// GetProgress returns the current progress
func (e *Engine) GetProgress() *types.BacktestProgress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := "idle"
	if e.running.Load() {
		status = "running"
	}

	return &types.BacktestProgress{
		ID:              e.config.ID,
		Status:          status,
		EventsProcessed: e.eventsProcessed.Load(),
		CurrentDate:     e.currentTime,
		TradesExecuted:  len(e.trades),
		CurrentEquity:   e.portfolio.GetEquity(),
	}
}

// ProgressChan returns the progress channel
func (e *Engine) ProgressChan() <-chan *types.BacktestProgress {
	return e.progressChan
}

// loadMarketData loads all market data and creates events
func (e *Engine) loadMarketData(ctx context.Context, config *types.BacktestConfig) (uint64, error) {
	var totalEvents uint64

	for _, symbol := range config.Symbols {
		ohlcv, err := e.dataLoader.LoadOHLCV(ctx, symbol, config.Timeframe, config.StartDate, config.EndDate)
		if err != nil {
			return 0, fmt.Errorf("failed to load data for %s: %w", symbol, err)
		}

		e.bars[symbol] = ohlcv
		e.positionDir[symbol] = types.DirectionHold
		for i := range ohlcv {
			bar := ohlcv[i]
			event := &events.MarketDataEvent{
				BaseEvent: events.BaseEvent{
					Type:      events.EventTypeMarketData,
					Timestamp: bar.Timestamp,
					Priority:  1,
				},
				Symbol: symbol,
				OHLCV:  &bar,
			}
			e.eventQueue.Push(event)
			totalEvents++
		}
	}

	return totalEvents, nil
}

// processEvent handles a single event
func (e *Engine) processEvent(event events.Event) error {
	switch ev := event.(type) {
	case *events.MarketDataEvent:
		return e.handleMarketData(ev)
	case *events.SignalEvent:
		return e.handleSignal(ev)
	case *events.OrderEvent:
		return e.handleOrder(ev)
	case *events.FillEvent:
		return e.handleFill(ev)
	default:
		return nil
	}
}

// handleMarketData advances one symbol's bar and, in order: checks its
// protective (stop-loss/take-profit) orders for a fill, then asks the
// decision engine whether to open, hold, or reverse the position. A
// protective fill wins over a same-bar reversal signal — positionDir is
// updated synchronously below, before generateSignal runs.
func (e *Engine) handleMarketData(event *events.MarketDataEvent) error {
	symbol := event.Symbol
	if event.OHLCV != nil {
		e.portfolio.UpdatePrice(symbol, event.OHLCV.Close)
	}

	e.checkProtectiveFills(event)

	idx := e.barIdx[symbol]
	signal := e.generateSignal(event, idx)
	if signal != nil {
		e.eventQueue.Push(&events.SignalEvent{
			BaseEvent: events.BaseEvent{Type: events.EventTypeSignal, Timestamp: event.Timestamp, Priority: 2},
			Signal:    signal,
		})
	}
	e.barIdx[symbol] = idx + 1

	e.equityCurve = append(e.equityCurve, types.EquityCurvePoint{
		Timestamp: event.Timestamp,
		Equity:    e.portfolio.GetEquity(),
		Cash:      e.portfolio.GetCash(),
		Drawdown:  e.portfolio.GetDrawdown(),
	})

	return nil
}

// checkProtectiveFills evaluates this bar's pending orders: market orders
// from the previous bar's signal and stop-loss/take-profit orders. When both
// protective orders would fill on the same bar (a gap through both levels),
// stop wins — the exit-evaluation order is stop before take-profit. Only a
// fill that closes a position flattens positionDir; an entry fill leaves it
// at the direction set when the entry signal was decided.
func (e *Engine) checkProtectiveFills(event *events.MarketDataEvent) {
	fills := e.orderManager.CheckFills(event)
	if len(fills) == 0 {
		return
	}

	bestBySymbol := make(map[string]*events.FillEvent, len(fills))
	for _, f := range fills {
		if e.exitReasonByOrder[f.OrderID] == ExitStop {
			bestBySymbol[f.Symbol] = f
			continue
		}
		if _, exists := bestBySymbol[f.Symbol]; !exists {
			bestBySymbol[f.Symbol] = f
		}
	}

	for symbol, fill := range bestBySymbol {
		if e.exitReasonByOrder[fill.OrderID] != "" {
			e.positionDir[symbol] = types.DirectionHold
		}
		e.eventQueue.Push(fill)
	}
}

// handleSignal turns a decision-engine signal into a market order. The
// signal already carries the correct order side (BUY to open long or cover
// a short, SELL to open short or close a long) — handleSignal just needs
// to size it.
func (e *Engine) handleSignal(event *events.SignalEvent) error {
	signal := event.Signal
	symbol := signal.Symbol

	switch signal.Type {
	case types.SignalTypeEntry:
		price := e.lastPrice(symbol)
		qty := e.calculatePositionSize(symbol, price)
		if qty.IsZero() {
			return nil
		}
		order := &types.Order{
			ID:        uuid.New().String(),
			Symbol:    symbol,
			Side:      signal.Side,
			Type:      types.OrderTypeMarket,
			Quantity:  qty,
			Status:    types.OrderStatusPending,
			CreatedAt: event.Timestamp,
			UpdatedAt: event.Timestamp,
		}
		if signal.Side == types.OrderSideBuy {
			e.positionDir[symbol] = types.DirectionBuy
		} else {
			e.positionDir[symbol] = types.DirectionSell
		}
		e.eventQueue.Push(&events.OrderEvent{
			BaseEvent: events.BaseEvent{Type: events.EventTypeOrder, Timestamp: event.Timestamp, Priority: 3},
			Order:     order,
		})

	case types.SignalTypeExit:
		pos := e.portfolio.GetPosition(symbol)
		if pos == nil {
			return nil
		}
		order := &types.Order{
			ID:        uuid.New().String(),
			Symbol:    symbol,
			Side:      signal.Side,
			Type:      types.OrderTypeMarket,
			Quantity:  pos.Quantity.Abs(),
			Status:    types.OrderStatusPending,
			CreatedAt: event.Timestamp,
			UpdatedAt: event.Timestamp,
		}
		e.exitReasonByOrder[order.ID] = ExitReversal
		e.cancelProtectiveOrders(symbol)
		e.positionDir[symbol] = types.DirectionHold
		e.eventQueue.Push(&events.OrderEvent{
			BaseEvent: events.BaseEvent{Type: events.EventTypeOrder, Timestamp: event.Timestamp, Priority: 3},
			Order:     order,
		})
	}

	return nil
}

// handleOrder processes order events
func (e *Engine) handleOrder(event *events.OrderEvent) error {
	e.orderManager.Submit(event.Order)
	return nil
}

// handleFill processes fill events. A BUY either opens/adds to a long or
// covers an existing short; a SELL either opens/adds to a short or closes
// an existing long. Whichever side actually reduces a position records a
// trade with its exit reason and arms no new protective orders; whichever
// side opens or grows one arms fresh stop-loss/take-profit orders.
func (e *Engine) handleFill(event *events.FillEvent) error {
	pos := e.portfolio.GetPosition(event.Symbol)

	if event.Side == types.OrderSideBuy {
		coveringShort := pos != nil && pos.Quantity.LessThan(decimal.Zero)
		pnl := e.portfolio.Buy(event.Symbol, event.Quantity, event.Price, event.Commission)
		if coveringShort {
			e.recordClosingFill(event, pnl)
			return nil
		}
		e.submitProtectiveOrders(event.Symbol, event.Price, event.Timestamp, true)
		return nil
	}

	closingLong := pos != nil && pos.Quantity.GreaterThan(decimal.Zero)
	pnl := e.portfolio.Sell(event.Symbol, event.Quantity, event.Price, event.Commission)
	if closingLong {
		e.recordClosingFill(event, pnl)
		return nil
	}
	e.submitProtectiveOrders(event.Symbol, event.Price, event.Timestamp, false)
	return nil
}

// recordClosingFill finalizes a fill that closes a long or covers a short:
// records the trade, clears its protective orders and exit bookkeeping, and
// flattens positionDir.
func (e *Engine) recordClosingFill(event *events.FillEvent, pnl decimal.Decimal) {
	reason := e.exitReasonByOrder[event.OrderID]
	if reason == "" {
		reason = ExitReversal
	}
	delete(e.exitReasonByOrder, event.OrderID)
	e.cancelProtectiveOrders(event.Symbol)
	e.recordTradeStats(pnl, event.Price, event.Quantity)

	e.trades = append(e.trades, &types.Trade{
		ID:         uuid.New().String(),
		OrderID:    event.OrderID,
		Symbol:     event.Symbol,
		Side:       event.Side,
		Quantity:   event.Quantity,
		Price:      event.Price,
		Commission: event.Commission,
		Slippage:   event.Slippage,
		PnL:        pnl,
		ExitReason: reason,
		ExecutedAt: event.Timestamp,
	})
	e.positionDir[event.Symbol] = types.DirectionHold
}

// generateSignal asks the decision engine for this bar's signal and turns a
// BUY/SELL flip relative to the held position into an entry or exit signal:
// BUY opens a long (or covers a held short), SELL opens a short (or closes
// a held long). HOLD, or a repeat of the already-held direction, produces
// no signal.
func (e *Engine) generateSignal(event *events.MarketDataEvent, idx int) *types.Signal {
	symbol := event.Symbol
	bars := e.bars[symbol]
	if idx >= len(bars) {
		return nil
	}

	dec, err := e.decisionEngine.Decide(bars, idx)
	if err != nil {
		e.logger.Warn("decision failed", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	held := e.positionDir[symbol]
	base := func(sigType types.SignalType, side types.OrderSide) *types.Signal {
		return &types.Signal{
			ID:         uuid.New().String(),
			Symbol:     symbol,
			Type:       sigType,
			Side:       side,
			Confidence: decimal.NewFromFloat(dec.Confidence),
			Source:     "decision_engine",
			CreatedAt:  event.Timestamp,
		}
	}

	switch {
	case dec.Signal == types.DirectionBuy && held == types.DirectionSell:
		return base(types.SignalTypeExit, types.OrderSideBuy)
	case dec.Signal == types.DirectionBuy && held == types.DirectionHold:
		return base(types.SignalTypeEntry, types.OrderSideBuy)
	case dec.Signal == types.DirectionSell && held == types.DirectionBuy:
		return base(types.SignalTypeExit, types.OrderSideSell)
	case dec.Signal == types.DirectionSell && held == types.DirectionHold:
		return base(types.SignalTypeEntry, types.OrderSideSell)
	default:
		return nil
	}
}

// calculatePositionSize sizes a new entry through internal/sizing, using
// the running win/loss statistics for Kelly mode and the current
// volatility regime as its multiplier.
func (e *Engine) calculatePositionSize(symbol string, price decimal.Decimal) decimal.Decimal {
	closes := closesUpTo(e.bars[symbol], e.barIdx[symbol])
	reg, _ := regime.Classify(closes, regime.DefaultConfig())

	var winRate, avgWin, avgLoss float64
	if total := e.winCount + e.lossCount; total > 0 {
		winRate = float64(e.winCount) / float64(total)
	}
	if e.winCount > 0 {
		avgWin = e.sumWinPct / float64(e.winCount)
	}
	if e.lossCount > 0 {
		avgLoss = e.sumLossPct / float64(e.lossCount)
	}

	units, err := e.sizer.Size(sizing.Request{
		PortfolioValue:   e.portfolio.GetEquity(),
		Price:            price,
		WinRate:          winRate,
		AvgWinPct:        avgWin,
		AvgLossPct:       avgLoss,
		RegimeMultiplier: regime.Multiplier(reg),
	})
	if err != nil {
		e.logger.Warn("position sizing failed", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero
	}
	return units
}

// submitProtectiveOrders arms a freshly opened position's stop-loss and
// take-profit orders, per risk_management.stop_loss_pct/take_profit_pct.
// long selects which side of the market the position is on: a long's stop
// sits below entry and closes with a sell, a short's stop sits above entry
// and closes with a buy.
func (e *Engine) submitProtectiveOrders(symbol string, entryPrice decimal.Decimal, ts time.Time, long bool) {
	pos := e.portfolio.GetPosition(symbol)
	if pos == nil {
		return
	}
	qty := pos.Quantity.Abs()

	closeSide := types.OrderSideSell
	if !long {
		closeSide = types.OrderSideBuy
	}

	var stopID, takeProfitID string
	if stopPrice := e.sizer.StopLossPrice(entryPrice, long); !stopPrice.IsZero() {
		o := &types.Order{
			ID: uuid.New().String(), Symbol: symbol, Side: closeSide,
			Type: types.OrderTypeStopLoss, Quantity: qty, StopPrice: stopPrice,
			Status: types.OrderStatusPending, CreatedAt: ts, UpdatedAt: ts,
		}
		e.exitReasonByOrder[o.ID] = ExitStop
		e.orderManager.Submit(o)
		stopID = o.ID
	}
	if tpPrice := e.sizer.TakeProfitPrice(entryPrice, long); !tpPrice.IsZero() {
		o := &types.Order{
			ID: uuid.New().String(), Symbol: symbol, Side: closeSide,
			Type: types.OrderTypeTakeProfit, Quantity: qty, Price: tpPrice,
			Status: types.OrderStatusPending, CreatedAt: ts, UpdatedAt: ts,
		}
		e.exitReasonByOrder[o.ID] = ExitTakeProfit
		e.orderManager.Submit(o)
		takeProfitID = o.ID
	}
	e.protectiveOrders[symbol] = [2]string{stopID, takeProfitID}
}

// cancelProtectiveOrders cancels a symbol's outstanding stop/take-profit
// orders, e.g. because the position they guard just closed some other way.
func (e *Engine) cancelProtectiveOrders(symbol string) {
	ids, ok := e.protectiveOrders[symbol]
	if !ok {
		return
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		e.orderManager.Cancel(id)
		delete(e.exitReasonByOrder, id)
	}
	delete(e.protectiveOrders, symbol)
}

// closeAllPositions force-closes every open position at its last known
// price, recording a trade with the given exit reason. A long closes with a
// sell, a short covers with a buy. Used for end-of-data and for
// cancellation.
func (e *Engine) closeAllPositions(reason string) {
	for symbol, pos := range e.portfolio.GetPositions() {
		if pos.Quantity.IsZero() {
			continue
		}
		e.cancelProtectiveOrders(symbol)
		price := pos.CurrentPrice
		qty := pos.Quantity.Abs()
		commission := qty.Mul(price).Mul(e.commissionRate())

		var side types.OrderSide
		var pnl decimal.Decimal
		if pos.Quantity.GreaterThan(decimal.Zero) {
			side = types.OrderSideSell
			pnl = e.portfolio.Sell(symbol, qty, price, commission)
		} else {
			side = types.OrderSideBuy
			pnl = e.portfolio.Buy(symbol, qty, price, commission)
		}

		e.recordTradeStats(pnl, price, qty)
		e.trades = append(e.trades, &types.Trade{
			ID:         uuid.New().String(),
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			Price:      price,
			Commission: commission,
			PnL:        pnl,
			ExitReason: reason,
			ExecutedAt: e.currentTime,
		})
		e.positionDir[symbol] = types.DirectionHold
	}
}

func (e *Engine) commissionRate() decimal.Decimal {
	if e.config == nil {
		return decimal.Zero
	}
	return e.config.Commission
}

func (e *Engine) recordTradeStats(pnl, price, qty decimal.Decimal) {
	notional := price.Mul(qty)
	if notional.IsZero() {
		return
	}
	pct, _ := pnl.Div(notional).Float64()
	if pct >= 0 {
		e.winCount++
		e.sumWinPct += pct
	} else {
		e.lossCount++
		e.sumLossPct += -pct
	}
}

func (e *Engine) lastPrice(symbol string) decimal.Decimal {
	if pos := e.portfolio.GetPosition(symbol); pos != nil {
		return pos.CurrentPrice
	}
	idx := e.barIdx[symbol]
	bars := e.bars[symbol]
	if idx > 0 && idx-1 < len(bars) {
		return bars[idx-1].Close
	}
	if len(bars) > 0 {
		return bars[0].Close
	}
	return decimal.Zero
}

func closesUpTo(bars []types.OHLCV, idx int) []float64 {
	if idx >= len(bars) {
		idx = len(bars) - 1
	}
	if idx < 0 {
		return nil
	}
	closes := make([]float64, idx+1)
	for i := 0; i <= idx; i++ {
		closes[i], _ = bars[i].Close.Float64()
	}
	return closes
}

// sendProgress sends a progress update
func (e *Engine) sendProgress(totalEvents uint64) {
	progress := e.eventsProcessed.Load()
	pct := float64(progress) / float64(totalEvents) * 100

	update := &types.BacktestProgress{
		ID:              e.config.ID,
		Status:          "running",
		Progress:        pct,
		EventsProcessed: progress,
		TotalEvents:     totalEvents,
		CurrentDate:     e.currentTime,
		TradesExecuted:  len(e.trades),
		CurrentEquity:   e.portfolio.GetEquity(),
	}

	select {
	case e.progressChan <- update:
	default:
		// Channel full, skip update
	}
}

// tradesToTypes converts internal trades to types.Trade
func (e *Engine) tradesToTypes() []types.Trade {
	result := make([]types.Trade, len(e.trades))
	for i, t := range e.trades {
		result[i] = *t
	}
	return result
}

// runMonteCarlo runs Monte Carlo simulation
func (e *Engine) runMonteCarlo(config types.MonteCarloConfig) *types.MonteCarloResult {
	mc := NewMonteCarloSimulator(e.logger, config)
	return mc.Run(e.trades)
}

// runWalkForward runs walk-forward analysis
func (e *Engine) runWalkForward(ctx context.Context, config *types.BacktestConfig) (*types.WalkForwardResult, error) {
	wf := NewWalkForwardAnalyzer(e.logger, e.dataLoader, e.slippageModel, e.decisionEngine, e.sizer)
	return wf.Run(ctx, config)
}
