package sizing_test

import (
	"testing"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/sizing"
	"github.com/shopspring/decimal"
)

func TestSizeFixedFractional(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{
		PositionSizing: config.PositionSizingSpec{Mode: "fixed_fractional", Fraction: 0.1},
	})
	units, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// 10% of 100000 = 10000 notional / 100 price = 100 units.
	if !units.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100 units, got %s", units)
	}
}

func TestSizeFixedNotional(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{
		PositionSizing: config.PositionSizingSpec{Mode: "fixed_notional", Notional: 5000},
	})
	units, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(50)})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if !units.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 100 units, got %s", units)
	}
}

func TestSizeFixedQuantity(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{
		PositionSizing: config.PositionSizingSpec{Mode: "fixed_quantity", Quantity: 42},
	})
	units, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if !units.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected 42 units, got %s", units)
	}
}

func TestSizeRejectsNonPositivePrice(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{PositionSizing: config.PositionSizingSpec{Mode: "fixed_fractional", Fraction: 0.1}})
	if _, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(1000), Price: decimal.Zero}); err == nil {
		t.Fatal("expected an error for a zero price")
	}
}

func TestSizeRejectsUnknownMode(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{PositionSizing: config.PositionSizingSpec{Mode: "not-a-mode"}})
	if _, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(1000), Price: decimal.NewFromInt(10)}); err == nil {
		t.Fatal("expected an error for an unknown sizing mode")
	}
}

func TestSizeCapsAtMaxPositionSize(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{
		PositionSizing:  config.PositionSizingSpec{Mode: "fixed_fractional", Fraction: 0.5},
		MaxPositionSize: 1000,
	})
	units, err := s.Size(sizing.Request{PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// Uncapped would be 5000 units; max_position_size=1000 / price 10 = 100.
	if !units.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected the cap to bind at 100 units, got %s", units)
	}
}

func TestSizeKellyScalesWithWinRateAndRegime(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{
		PositionSizing: config.PositionSizingSpec{Mode: "kelly", KellyFraction: 1.0},
	})
	base, err := s.Size(sizing.Request{
		PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(100),
		WinRate: 0.6, AvgWinPct: 0.05, AvgLossPct: 0.03,
	})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if base.IsZero() {
		t.Fatal("expected a positive Kelly-sized position for a favorable edge")
	}

	dampened, err := s.Size(sizing.Request{
		PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(100),
		WinRate: 0.6, AvgWinPct: 0.05, AvgLossPct: 0.03, RegimeMultiplier: 0.5,
	})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if !dampened.LessThan(base) {
		t.Fatalf("expected a regime multiplier < 1 to shrink the position: base=%s dampened=%s", base, dampened)
	}
}

func TestSizeKellyZeroOnNoEdge(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{PositionSizing: config.PositionSizingSpec{Mode: "kelly"}})
	units, err := s.Size(sizing.Request{
		PortfolioValue: decimal.NewFromInt(100000), Price: decimal.NewFromInt(100),
		WinRate: 0.3, AvgWinPct: 0.01, AvgLossPct: 0.05,
	})
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if !units.IsZero() {
		t.Fatalf("expected zero position size on a losing edge, got %s", units)
	}
}

func TestStopLossAndTakeProfitPricesForLong(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{StopLossPct: 0.05, TakeProfitPct: 0.10})
	entry := decimal.NewFromInt(100)

	sl := s.StopLossPrice(entry, true)
	if !sl.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected long stop-loss at 95, got %s", sl)
	}
	tp := s.TakeProfitPrice(entry, true)
	if !tp.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected long take-profit at 110, got %s", tp)
	}
}

func TestStopLossAndTakeProfitPricesForShort(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{StopLossPct: 0.05, TakeProfitPct: 0.10})
	entry := decimal.NewFromInt(100)

	sl := s.StopLossPrice(entry, false)
	if !sl.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected short stop-loss at 105, got %s", sl)
	}
	tp := s.TakeProfitPrice(entry, false)
	if !tp.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected short take-profit at 90, got %s", tp)
	}
}

func TestProtectivePricesZeroWhenUnconfigured(t *testing.T) {
	s := sizing.NewSizer(config.RiskManagementSpec{})
	entry := decimal.NewFromInt(100)
	if !s.StopLossPrice(entry, true).IsZero() {
		t.Fatal("expected zero stop-loss price when stop_loss_pct is unset")
	}
	if !s.TakeProfitPrice(entry, true).IsZero() {
		t.Fatal("expected zero take-profit price when take_profit_pct is unset")
	}
}
