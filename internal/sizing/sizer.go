// Package sizing computes position size in units given a strategy's
// risk_management.position_sizing config. Adapted from the teacher's
// PositionSizer: fixed-fractional/notional/quantity become the primary,
// spec-mandated modes, while the teacher's Kelly-criterion math survives as
// the opt-in "kelly" mode, gated by the config switch rather than always
// blended in.
package sizing

import (
	"math"

	"github.com/ktrdr/ktrdr/internal/config"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/shopspring/decimal"
)

// Sizer computes position sizes for one strategy's risk_management config.
type Sizer struct {
	cfg config.RiskManagementSpec
}

func NewSizer(cfg config.RiskManagementSpec) *Sizer {
	return &Sizer{cfg: cfg}
}

// Request carries the per-decision inputs a sizing mode needs.
type Request struct {
	PortfolioValue   decimal.Decimal
	Price            decimal.Decimal
	WinRate          float64 // only read by the "kelly" mode
	AvgWinPct        float64
	AvgLossPct       float64
	RegimeMultiplier float64 // only read by the "kelly" mode; 0 or 1 means no adjustment
}

// Size returns the number of units to buy/sell for this decision, already
// capped by max_position_size.
func (s *Sizer) Size(req Request) (decimal.Decimal, error) {
	if req.Price.IsZero() || req.Price.IsNegative() {
		return decimal.Zero, &kerrors.ConfigError{Field: "price", Message: "price must be positive to size a position"}
	}

	var units decimal.Decimal
	switch s.cfg.PositionSizing.Mode {
	case "", "fixed_fractional":
		units = s.fixedFractional(req)
	case "fixed_notional":
		units = decimal.NewFromFloat(s.cfg.PositionSizing.Notional).Div(req.Price)
	case "fixed_quantity":
		units = decimal.NewFromFloat(s.cfg.PositionSizing.Quantity)
	case "kelly":
		units = s.kelly(req)
	default:
		return decimal.Zero, &kerrors.ConfigError{Field: "risk_management.position_sizing.mode", Message: "unknown mode " + s.cfg.PositionSizing.Mode}
	}

	if s.cfg.MaxPositionSize > 0 {
		maxUnits := decimal.NewFromFloat(s.cfg.MaxPositionSize).Div(req.Price)
		if units.GreaterThan(maxUnits) {
			units = maxUnits
		}
	}
	if units.IsNegative() {
		units = decimal.Zero
	}
	return units, nil
}

func (s *Sizer) fixedFractional(req Request) decimal.Decimal {
	fraction := s.cfg.PositionSizing.Fraction
	if fraction <= 0 {
		fraction = 0.01
	}
	notional := req.PortfolioValue.Mul(decimal.NewFromFloat(fraction))
	return notional.Div(req.Price)
}

// kelly sizes by the fractional Kelly criterion: f* = p - (1-p)/b, scaled by
// the configured kelly_fraction and, when supplied, a volatility-regime
// multiplier from internal/regime — following the teacher's
// calculateKelly/UseRegimeAdjustment combination.
func (s *Sizer) kelly(req Request) decimal.Decimal {
	f := calculateKelly(req.WinRate, req.AvgWinPct, req.AvgLossPct)
	kellyFraction := s.cfg.PositionSizing.KellyFraction
	if kellyFraction <= 0 {
		kellyFraction = 0.25
	}
	f *= kellyFraction
	if req.RegimeMultiplier > 0 {
		f *= req.RegimeMultiplier
	}
	notional := req.PortfolioValue.Mul(decimal.NewFromFloat(f))
	return notional.Div(req.Price)
}

func calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}
	p := winRate
	q := 1 - p
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	kelly := p - q/b
	return math.Max(0, math.Min(1, kelly))
}

// StopLossPrice returns the stop-loss price for a long/short entry at price,
// given the config's stop_loss_pct. long indicates position direction.
func (s *Sizer) StopLossPrice(entry decimal.Decimal, long bool) decimal.Decimal {
	if s.cfg.StopLossPct <= 0 {
		return decimal.Zero
	}
	delta := entry.Mul(decimal.NewFromFloat(s.cfg.StopLossPct))
	if long {
		return entry.Sub(delta)
	}
	return entry.Add(delta)
}

// TakeProfitPrice returns the take-profit price for a long/short entry at
// price, given the config's take_profit_pct.
func (s *Sizer) TakeProfitPrice(entry decimal.Decimal, long bool) decimal.Decimal {
	if s.cfg.TakeProfitPct <= 0 {
		return decimal.Zero
	}
	delta := entry.Mul(decimal.NewFromFloat(s.cfg.TakeProfitPct))
	if long {
		return entry.Add(delta)
	}
	return entry.Sub(delta)
}
