// Package telemetry exposes the Prometheus counters and gauges updated
// during a run. The orchestrator updates ActiveRuns, TrainingEpochs, Equity
// and Drawdown; BarsProcessed and TradesClosed are registered but no
// package increments them. Metric registration follows the pattern found in the pack's
// chidi150c-coinbase/metrics.go: package-level CounterVec/GaugeVec values
// registered once via prometheus.MustRegister in an init(), with small
// helper setters rather than handing out the raw metric objects.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	BarsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrdr_bars_processed_total",
			Help: "Bars processed by the backtest engine.",
		},
		[]string{"symbol", "timeframe"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrdr_trades_closed_total",
			Help: "Trades closed by the backtest engine, by exit reason.",
		},
		[]string{"symbol", "exit_reason"},
	)

	TrainingEpochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ktrdr_training_epochs_total",
			Help: "Training epochs completed.",
		},
		[]string{"strategy", "symbol", "timeframe"},
	)

	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ktrdr_equity",
			Help: "Current backtest equity.",
		},
		[]string{"run_id"},
	)

	Drawdown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ktrdr_drawdown",
			Help: "Current backtest drawdown fraction.",
		},
		[]string{"run_id"},
	)

	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ktrdr_active_runs",
			Help: "Number of train/backtest runs currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(BarsProcessed, TradesClosed, TrainingEpochs, Equity, Drawdown, ActiveRuns)
}

func IncBarsProcessed(symbol, timeframe string, n int) {
	BarsProcessed.WithLabelValues(symbol, timeframe).Add(float64(n))
}

func IncTradeClosed(symbol, exitReason string) {
	TradesClosed.WithLabelValues(symbol, exitReason).Inc()
}

func IncTrainingEpoch(strategy, symbol, timeframe string) {
	TrainingEpochs.WithLabelValues(strategy, symbol, timeframe).Inc()
}

func SetEquity(runID string, equity float64) {
	Equity.WithLabelValues(runID).Set(equity)
}

func SetDrawdown(runID string, drawdown float64) {
	Drawdown.WithLabelValues(runID).Set(drawdown)
}
