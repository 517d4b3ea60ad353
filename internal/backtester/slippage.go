// Package backtester provides slippage modeling for backtesting.
package backtester

import (
	"math"

	"github.com/ktrdr/ktrdr/internal/backtester/events"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel interface for different slippage models
type SlippageModel interface {
	Calculate(order *types.Order, marketData *events.MarketDataEvent) decimal.Decimal
}

// FixedSlippage applies a fixed percentage slippage, for
// slippage.model == "fixed".
type FixedSlippage struct {
	BasisPoints decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{BasisPoints: bps}
}

// Calculate returns fixed slippage
func (f *FixedSlippage) Calculate(order *types.Order, marketData *events.MarketDataEvent) decimal.Decimal {
	return f.BasisPoints.Div(decimal.NewFromInt(10000))
}

// VolumeWeightedSlippage models slippage based on order size relative to
// volume, for slippage.model == "volume_weighted".
type VolumeWeightedSlippage struct {
	BaseSlippage decimal.Decimal // Base slippage in bps
	ImpactFactor decimal.Decimal // Market impact multiplier
	VolumeFrac   decimal.Decimal // Max volume participation
}

// NewVolumeWeightedSlippage creates a volume-weighted slippage model
func NewVolumeWeightedSlippage(baseBps, impactFactor, volumeFrac decimal.Decimal) *VolumeWeightedSlippage {
	return &VolumeWeightedSlippage{
		BaseSlippage: baseBps,
		ImpactFactor: impactFactor,
		VolumeFrac:   volumeFrac,
	}
}

// Calculate returns slippage based on order size relative to volume
func (v *VolumeWeightedSlippage) Calculate(order *types.Order, marketData *events.MarketDataEvent) decimal.Decimal {
	baseSlip := v.BaseSlippage.Div(decimal.NewFromInt(10000))

	if order == nil || marketData == nil || marketData.OHLCV == nil || marketData.OHLCV.Volume.IsZero() {
		return baseSlip
	}

	// Calculate participation rate
	participation := order.Quantity.Div(marketData.OHLCV.Volume)

	// Square root impact model: impact = k * sqrt(participation)
	participationFloat, _ := participation.Float64()
	sqrtParticipation := decimal.NewFromFloat(math.Sqrt(participationFloat))

	impact := v.ImpactFactor.Mul(sqrtParticipation)

	return baseSlip.Add(impact)
}

// CreateSlippageModel creates a slippage model from config. "orderbook" and
// MEV-aware modes are dropped along with the simulated order-book depth
// model they depended on (see DESIGN.md) — the strategy config's
// transaction_costs.slippage section only ever names "fixed" or
// "volume_weighted".
func CreateSlippageModel(config types.SlippageConfig) SlippageModel {
	switch config.Model {
	case "volume_weighted":
		return NewVolumeWeightedSlippage(
			config.FixedBps,
			config.ImpactFactor,
			config.VolumeFraction,
		)
	default:
		if config.FixedBps.IsZero() {
			return NewFixedSlippage(decimal.NewFromInt(10))
		}
		return NewFixedSlippage(config.FixedBps)
	}
}
