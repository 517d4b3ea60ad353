package backtester_test

import (
	"testing"

	"github.com/ktrdr/ktrdr/internal/backtester"
	"github.com/ktrdr/ktrdr/internal/montecarlo"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
)

func goodResult() *types.BacktestResult {
	return &types.BacktestResult{
		Metrics: &types.PerformanceMetrics{
			SharpeRatio:  decimal.NewFromFloat(1.2),
			MaxDrawdown:  decimal.NewFromFloat(0.08),
			ProfitFactor: decimal.NewFromFloat(2.2),
			WinRate:      decimal.NewFromFloat(0.55),
			TotalTrades:  80,
			SortinoRatio: decimal.NewFromFloat(1.6),
			CalmarRatio:  decimal.NewFromFloat(0.9),
			Expectancy:   decimal.NewFromFloat(0.01),
			TotalReturn:  decimal.NewFromFloat(0.3),
		},
		RiskMetrics: &types.RiskMetrics{VaR95: decimal.NewFromFloat(0.02)},
	}
}

func TestCheckGradesAViableStrategy(t *testing.T) {
	report := backtester.NewViabilityChecker(nil).Check(goodResult())
	if !report.IsViable {
		t.Fatalf("expected a strategy with strong metrics to be viable, got issues: %+v", report.Issues)
	}
	if report.Grade == "F" {
		t.Fatalf("expected a passing grade, got F (score=%d)", report.Score)
	}
}

func TestCheckFlagsCriticalSharpeAndDrawdown(t *testing.T) {
	result := goodResult()
	result.Metrics.SharpeRatio = decimal.NewFromFloat(-0.5)
	result.Metrics.MaxDrawdown = decimal.NewFromFloat(0.45)

	report := backtester.NewViabilityChecker(nil).Check(result)
	if report.IsViable {
		t.Fatal("expected a negative-Sharpe, deep-drawdown strategy to be rejected")
	}
}

func TestApplyBootstrapRobustnessLowersScoreOnRuinRisk(t *testing.T) {
	checker := backtester.NewViabilityChecker(nil)
	report := checker.Check(goodResult())
	baseline := report.RobustnessScore
	baseScore := report.Score

	checker.ApplyBootstrapRobustness(report, &montecarlo.SimulationResult{ProbabilityOfRuin: 0.4})

	if report.RobustnessScore >= baseline {
		t.Fatalf("expected the robustness score to drop under high ruin probability: before=%d after=%d", baseline, report.RobustnessScore)
	}
	if report.Score >= baseScore {
		t.Fatalf("expected the overall score to drop once robustness fell: before=%d after=%d", baseScore, report.Score)
	}
	if report.BootstrapRuinProbability != 0.4 {
		t.Fatalf("expected BootstrapRuinProbability to be recorded, got %v", report.BootstrapRuinProbability)
	}
	if report.IsViable {
		t.Fatal("expected a 40% bootstrap ruin probability to flip a previously-viable report to not viable")
	}
}

func TestApplyBootstrapRobustnessIgnoresNilInputs(t *testing.T) {
	checker := backtester.NewViabilityChecker(nil)
	report := checker.Check(goodResult())
	before := *report

	checker.ApplyBootstrapRobustness(report, nil)
	if report.RobustnessScore != before.RobustnessScore || report.Score != before.Score {
		t.Fatal("expected a nil simulation result to leave the report unchanged")
	}

	checker.ApplyBootstrapRobustness(nil, &montecarlo.SimulationResult{ProbabilityOfRuin: 0.9})
}

func TestApplyBootstrapRobustnessNegligibleRuinLeavesReportViable(t *testing.T) {
	checker := backtester.NewViabilityChecker(nil)
	report := checker.Check(goodResult())

	checker.ApplyBootstrapRobustness(report, &montecarlo.SimulationResult{ProbabilityOfRuin: 0.01})
	if !report.IsViable {
		t.Fatalf("expected a negligible ruin probability to keep the report viable, got issues: %+v", report.Issues)
	}
}
