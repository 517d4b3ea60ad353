// Package main provides the ktrdr CLI entrypoint: train, backtest, predict,
// tune, and serve subcommands over one strategy config file, wired through
// internal/orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ktrdr/ktrdr/internal/api"
	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/model"
	"github.com/ktrdr/ktrdr/internal/observer"
	"github.com/ktrdr/ktrdr/internal/ohlcv"
	"github.com/ktrdr/ktrdr/internal/orchestrator"
	"github.com/ktrdr/ktrdr/internal/runpool"
	"github.com/ktrdr/ktrdr/internal/tuning"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	strategyPath string
	dataDir      string
	modelDir     string
	logLevel     string
	symbol       string
	timeframe    string
	version      int
)

func main() {
	root := &cobra.Command{
		Use:   "ktrdr",
		Short: "Neuro-fuzzy trading strategy runner",
	}
	root.PersistentFlags().StringVar(&strategyPath, "strategy", "", "path to strategy YAML config (required)")
	root.PersistentFlags().StringVar(&dataDir, "data", "./data", "OHLCV cache directory")
	root.PersistentFlags().StringVar(&modelDir, "models", "./models", "model artifact store root")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&symbol, "symbol", "", "symbol to operate on (required)")
	root.PersistentFlags().StringVar(&timeframe, "timeframe", "1h", "bar timeframe")
	root.PersistentFlags().IntVar(&version, "version", 0, "model version (0 = latest)")

	root.AddCommand(trainCmd(), backtestCmd(), predictCmd(), tuneCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEnv() (*zap.Logger, *config.StrategyConfig, *ohlcv.Cache, *model.Store, error) {
	logger := setupLogger(logLevel)

	if strategyPath == "" {
		return nil, nil, nil, nil, fmt.Errorf("--strategy is required")
	}
	strategy, err := config.Load(strategyPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cache, err := ohlcv.NewCache(logger, dataDir)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store := model.NewStore(modelDir)

	return logger, strategy, cache, store, nil
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train a model for one symbol/timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, strategy, cache, store, err := newEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			runs := observer.NewRegistry()
			orch := orchestrator.NewOrchestrator(logger, cache, store, runs, nil)

			result, err := orch.Train(cmd.Context(), strategy, symbol, types.Timeframe(timeframe), "")
			if err != nil {
				return err
			}
			logger.Info("training complete",
				zap.Int("version", result.Meta.Version),
				zap.Any("valMetrics", result.Meta.ValMetrics),
				zap.Any("testMetrics", result.Meta.TestMetrics),
			)
			return nil
		},
	}
}

func backtestCmd() *cobra.Command {
	var capital float64
	var commissionPct float64
	var start, end string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest a trained model over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, strategy, cache, store, err := newEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			btCfg, err := buildBacktestConfig(strategy, symbol, timeframe, capital, commissionPct, start, end)
			if err != nil {
				return err
			}

			runs := observer.NewRegistry()
			orch := orchestrator.NewOrchestrator(logger, cache, store, runs, nil)

			result, err := orch.Backtest(cmd.Context(), strategy, btCfg, version, "")
			if err != nil {
				return err
			}
			logger.Info("backtest complete",
				zap.String("id", result.ID),
				zap.Int("trades", len(result.Trades)),
				zap.Any("metrics", result.Metrics),
			)
			return nil
		},
	}
	cmd.Flags().Float64Var(&capital, "capital", 100000, "initial capital")
	cmd.Flags().Float64Var(&commissionPct, "commission-pct", 0, "override strategy commission percentage (0 = use strategy config)")
	cmd.Flags().StringVar(&start, "start", "", "start date, RFC3339 or YYYY-MM-DD (default: strategy config)")
	cmd.Flags().StringVar(&end, "end", "", "end date, RFC3339 or YYYY-MM-DD (default: strategy config)")
	return cmd
}

func predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict",
		Short: "Run live inference for the latest bar",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, strategy, cache, store, err := newEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			runs := observer.NewRegistry()
			orch := orchestrator.NewOrchestrator(logger, cache, store, runs, nil)

			decision, err := orch.Predict(cmd.Context(), strategy, symbol, types.Timeframe(timeframe), version)
			if err != nil {
				return err
			}
			logger.Info("decision",
				zap.String("signal", decision.Signal.String()),
				zap.Float64("confidence", decision.Confidence),
			)
			return nil
		},
	}
}

func tuneCmd() *cobra.Command {
	var capital float64
	var iterations int
	var method string

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Search risk-management parameters for the best backtest Sharpe ratio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, strategy, cache, store, err := newEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			btCfg, err := buildBacktestConfig(strategy, symbol, timeframe, capital, 0, "", "")
			if err != nil {
				return err
			}

			runs := observer.NewRegistry()
			orch := orchestrator.NewOrchestrator(logger, cache, store, runs, nil)

			params := []tuning.Parameter{
				{Name: "stop_loss_pct", Type: tuning.ParamContinuous, Min: 0.01, Max: 0.10},
				{Name: "take_profit_pct", Type: tuning.ParamContinuous, Min: 0.02, Max: 0.20},
				{Name: "fraction", Type: tuning.ParamContinuous, Min: 0.05, Max: 0.5},
			}
			tuneCfg := tuning.Config{
				Method:          tuning.Method(method),
				MaxIterations:   iterations,
				GridResolution:  4,
				Minimize:        false,
				ParallelWorkers: 4,
				Timeout:         30 * time.Minute,
				Seed:            1,
			}

			result, err := orch.Tune(cmd.Context(), strategy, btCfg, version, params, tuneCfg)
			if err != nil {
				return err
			}
			logger.Info("tuning complete",
				zap.Any("bestParams", result.BestParams),
				zap.Float64("bestScore", result.BestScore),
				zap.Int("trials", len(result.Trials)),
			)
			return nil
		},
	}
	cmd.Flags().Float64Var(&capital, "capital", 100000, "initial capital")
	cmd.Flags().IntVar(&iterations, "iterations", 50, "max trials for random search")
	cmd.Flags().StringVar(&method, "method", "random", "search method: grid or random")
	return cmd
}

func serveCmd() *cobra.Command {
	var host string
	var port int
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status/metrics API with a background run pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, cache, store, err := newEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runs := observer.NewRegistry()
			poolCfg := runpool.DefaultConfig("ktrdr-runs")
			if workers > 0 {
				poolCfg.NumWorkers = workers
			}
			pool := runpool.NewPool(logger, poolCfg)
			pool.Start()
			defer pool.Stop()

			orch := orchestrator.NewOrchestrator(logger, cache, store, runs, pool)
			_ = orch

			serverConfig := &types.ServerConfig{
				Host:           host,
				Port:           port,
				WebSocketPath:  "/ws",
				ReadTimeout:    30 * time.Second,
				WriteTimeout:   30 * time.Second,
				MaxConnections: 100,
				EnableMetrics:  true,
				MetricsPort:    port,
			}
			server := api.NewServer(logger, serverConfig, runs)

			go func() {
				if err := server.Start(); err != nil {
					logger.Error("server error", zap.Error(err))
				}
			}()
			logger.Info("ktrdr serving", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			logger.Info("shutdown signal received")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			return server.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "server host")
	cmd.Flags().IntVar(&port, "port", 8080, "server port")
	cmd.Flags().IntVar(&workers, "workers", 0, "background run-pool workers (0 = runtime.NumCPU())")
	return cmd
}

func buildBacktestConfig(strategy *config.StrategyConfig, symbol, timeframe string, capital, commissionPctOverride float64, startOverride, endOverride string) (*types.BacktestConfig, error) {
	start := strategy.Backtesting.StartDate
	end := strategy.Backtesting.EndDate
	if startOverride != "" {
		t, err := parseDate(startOverride)
		if err != nil {
			return nil, err
		}
		start = t
	}
	if endOverride != "" {
		t, err := parseDate(endOverride)
		if err != nil {
			return nil, err
		}
		end = t
	}

	commissionPct := strategy.Backtesting.TransactionCosts.CommissionPct
	if commissionPctOverride != 0 {
		commissionPct = commissionPctOverride
	}

	initialCapital := decimal.NewFromFloat(capital)
	if capital == 0 {
		initialCapital = decimal.NewFromFloat(strategy.Backtesting.InitialCapital)
	}

	return &types.BacktestConfig{
		Symbols:        []string{symbol},
		StartDate:      start,
		EndDate:        end,
		Timeframe:      types.Timeframe(timeframe),
		InitialCapital: initialCapital,
		Commission:     decimal.NewFromFloat(commissionPct),
		Slippage: types.SlippageConfig{
			Model:    strategy.Backtesting.Slippage.Model,
			FixedBps: decimal.NewFromFloat(strategy.Backtesting.Slippage.Pct * 10000),
		},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
